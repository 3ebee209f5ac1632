package infrastructure

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mercato/order-system/shared/messaging"
)

type replyMessage struct {
	Message types.Message
	Reply   *messaging.Reply
	Err     error
}

// SQSReplyConsumer consumes the orchestrator's private reply queue and feeds
// each reply to the dispatcher. Reader goroutines long-poll SQS, worker
// goroutines run the handler, cleaner goroutines ack or extend visibility.
type SQSReplyConsumer struct {
	mux              sync.RWMutex
	inboundMessages  chan *replyMessage
	outboundMessages chan *replyMessage
	cancel           context.CancelFunc
	running          atomic.Bool
	options          *replyConsumerOptions

	client   *sqs.Client
	queueURL string
	handler  messaging.ReplyHandler
	logger   zerolog.Logger
}

type replyConsumerOptions struct {
	workers                        int32
	readers                        int32
	cleaners                       int32
	maxNumberOfMessages            int32
	waitTimeSeconds                int32
	visibilityTimeout              int32
	sleepTimeAfterEmptyReceive     time.Duration
	sleepTimeAfterError            time.Duration
	extendVisibilityTimeoutOnError bool
	receiveCountRange              int32
	visibilityTimeoutOffset        int32
	maxVisibilityTimeout           int32
}

// ReplyConsumerOption customizes consumer behavior.
type ReplyConsumerOption func(*replyConsumerOptions)

func WithWorkers(workers int32) ReplyConsumerOption {
	return func(o *replyConsumerOptions) {
		o.workers = workers
	}
}

func WithReaders(readers int32) ReplyConsumerOption {
	return func(o *replyConsumerOptions) {
		o.readers = readers
	}
}

func WithVisibilityTimeout(timeout int32) ReplyConsumerOption {
	return func(o *replyConsumerOptions) {
		o.visibilityTimeout = timeout
	}
}

// NewSQSReplyConsumer creates a reply consumer on an existing SQS client.
func NewSQSReplyConsumer(
	client *sqs.Client,
	queueURL string,
	handler messaging.ReplyHandler,
	logger zerolog.Logger,
	opts ...ReplyConsumerOption,
) *SQSReplyConsumer {
	options := &replyConsumerOptions{
		workers:                        10,
		readers:                        1,
		cleaners:                       2,
		maxNumberOfMessages:            5,
		waitTimeSeconds:                15,
		visibilityTimeout:              30,
		sleepTimeAfterEmptyReceive:     time.Second,
		sleepTimeAfterError:            10 * time.Second,
		extendVisibilityTimeoutOnError: true,
		receiveCountRange:              3,
		visibilityTimeoutOffset:        30,
		maxVisibilityTimeout:           900,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &SQSReplyConsumer{
		client:           client,
		queueURL:         queueURL,
		handler:          handler,
		inboundMessages:  make(chan *replyMessage, 10),
		outboundMessages: make(chan *replyMessage, 10),
		options:          options,
		logger:           logger.With().Str("component", "sqs-reply-consumer").Logger(),
	}
}

// NewSQSReplyConsumerFromConfig builds the AWS client from the default
// config chain.
func NewSQSReplyConsumerFromConfig(
	ctx context.Context,
	queueURL string,
	handler messaging.ReplyHandler,
	logger zerolog.Logger,
	opts ...ReplyConsumerOption,
) (*SQSReplyConsumer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	return NewSQSReplyConsumer(sqs.NewFromConfig(cfg), queueURL, handler, logger, opts...), nil
}

// Start starts the consumer goroutines.
func (c *SQSReplyConsumer) Start(ctx context.Context) error {
	if c.running.Load() {
		return nil
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	ctx, cancel := context.WithCancel(ctx)
	c.inboundMessages = make(chan *replyMessage, 10)
	c.outboundMessages = make(chan *replyMessage, 10)
	c.cancel = cancel

	for i := 0; i < int(c.options.workers); i++ {
		go c.startWorker(ctx)
	}
	for i := 0; i < int(c.options.readers); i++ {
		go c.startReader(ctx)
	}
	for i := 0; i < int(c.options.cleaners); i++ {
		go c.startCleaner(ctx)
	}

	c.running.Store(true)
	return nil
}

// Stop stops the consumer.
func (c *SQSReplyConsumer) Stop(_ context.Context) error {
	if !c.running.Load() {
		return nil
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = nil
	c.running.Store(false)
	return nil
}

func (c *SQSReplyConsumer) startWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-c.inboundMessages:
			if message == nil {
				continue
			}
			c.handle(ctx, message)
		}
	}
}

func (c *SQSReplyConsumer) startReader(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := c.read(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("reply receive failed")
				time.Sleep(c.options.sleepTimeAfterError)
			}
		}
	}
}

func (c *SQSReplyConsumer) startCleaner(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-c.outboundMessages:
			if message == nil {
				continue
			}
			if err := c.clean(ctx, message); err != nil {
				c.logger.Warn().Err(err).Msg("reply cleanup failed")
			}
		}
	}
}

func (c *SQSReplyConsumer) read(ctx context.Context) error {
	output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.options.maxNumberOfMessages,
		WaitTimeSeconds:     c.options.waitTimeSeconds,
		VisibilityTimeout:   c.options.visibilityTimeout,
		AttributeNames: []types.QueueAttributeName{
			"ApproximateReceiveCount",
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return errors.Wrap(err, "failed to receive message from SQS")
	}

	if len(output.Messages) == 0 {
		time.Sleep(c.options.sleepTimeAfterEmptyReceive)
		return nil
	}

	for _, message := range output.Messages {
		reply, err := messaging.ParseReply([]byte(aws.ToString(message.Body)))
		if err != nil {
			// Malformed replies cannot be correlated; ack and drop.
			c.logger.Warn().Err(err).Msg("dropping malformed reply")
			select {
			case c.outboundMessages <- &replyMessage{Message: message}:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		select {
		case c.inboundMessages <- &replyMessage{Message: message, Reply: reply}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (c *SQSReplyConsumer) handle(ctx context.Context, message *replyMessage) {
	c.mux.RLock()
	handler := c.handler
	c.mux.RUnlock()

	if handler == nil {
		message.Err = errors.New("no handler configured")
	} else {
		message.Err = handler.Handle(ctx, message.Reply)
	}

	select {
	case c.outboundMessages <- message:
	case <-ctx.Done():
	}
}

func (c *SQSReplyConsumer) clean(ctx context.Context, message *replyMessage) error {
	if message.Err != nil {
		if c.options.extendVisibilityTimeoutOnError {
			receiveCount, err := strconv.Atoi(message.Message.Attributes["ApproximateReceiveCount"])
			if err != nil {
				receiveCount = 1
			}

			visibilityTimeout := c.options.visibilityTimeout
			visibilityTimeout += (int32(receiveCount) / c.options.receiveCountRange) * c.options.visibilityTimeoutOffset
			if visibilityTimeout > c.options.maxVisibilityTimeout {
				visibilityTimeout = c.options.maxVisibilityTimeout
			}

			_, err = c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          &c.queueURL,
				ReceiptHandle:     message.Message.ReceiptHandle,
				VisibilityTimeout: visibilityTimeout,
			})
			if err != nil {
				return errors.Wrap(err, "failed to extend visibility timeout")
			}
		}
		return nil
	}

	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: message.Message.ReceiptHandle,
	})
	if err != nil {
		return errors.Wrap(err, "failed to delete message from SQS")
	}
	return nil
}
