package infrastructure

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"

	"github.com/mercato/order-system/shared/messaging"
)

var _ messaging.CommandPublisher = (*SQSCommandPublisher)(nil)

// SQSCommandPublisher sends step commands to per-step SQS queues. Queue
// names resolve through an explicit mapping first, falling back to
// urlPrefix + "/" + name (the LocalStack and single-account layout).
type SQSCommandPublisher struct {
	client    *sqs.Client
	queueURLs map[string]string
	urlPrefix string
}

// NewSQSCommandPublisher creates a publisher on an existing SQS client.
func NewSQSCommandPublisher(client *sqs.Client, urlPrefix string, queueURLs map[string]string) *SQSCommandPublisher {
	return &SQSCommandPublisher{
		client:    client,
		queueURLs: queueURLs,
		urlPrefix: urlPrefix,
	}
}

// NewSQSCommandPublisherFromConfig builds the AWS client from the default
// config chain (works with LocalStack when AWS_ENDPOINT_URL is set).
func NewSQSCommandPublisherFromConfig(ctx context.Context, urlPrefix string, queueURLs map[string]string) (*SQSCommandPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	return NewSQSCommandPublisher(sqs.NewFromConfig(cfg), urlPrefix, queueURLs), nil
}

// Send publishes one command to the named queue.
func (p *SQSCommandPublisher) Send(ctx context.Context, queue string, command *messaging.Command) error {
	body, err := json.Marshal(command)
	if err != nil {
		return errors.Wrap(err, "failed to marshal command")
	}

	attributes := map[string]types.MessageAttributeValue{
		"workflowId": {
			DataType:    aws.String("String"),
			StringValue: aws.String(command.WorkflowID),
		},
		"stepName": {
			DataType:    aws.String("String"),
			StringValue: aws.String(command.StepName),
		},
		"correlationId": {
			DataType:    aws.String("String"),
			StringValue: aws.String(command.CorrelationID),
		},
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.resolveQueueURL(queue)),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attributes,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to send command to queue %s", queue)
	}
	return nil
}

func (p *SQSCommandPublisher) resolveQueueURL(queue string) string {
	if url, ok := p.queueURLs[queue]; ok {
		return url
	}
	return strings.TrimSuffix(p.urlPrefix, "/") + "/" + queue
}
