package saga

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrDuplicateCorrelationID is returned when registering a correlation id
// that already has a pending request. Correlation ids are generated fresh per
// attempt, so a collision means a caller bug rather than a race.
var ErrDuplicateCorrelationID = errors.New("correlation id already registered")

// StepOutcome is the resolution of a pending step invocation.
type StepOutcome struct {
	Data map[string]interface{}
	Err  error
}

type pendingRequest struct {
	stepName   string
	workflowID string
	outcome    chan StepOutcome
}

// Registry correlates asynchronous replies back to in-flight step
// invocations. Resolution and expiry are mutually exclusive: whichever
// removes the entry first wins and the other becomes a no-op.
type Registry struct {
	mux     sync.Mutex
	pending map[string]*pendingRequest
	logger  zerolog.Logger
}

// NewRegistry creates an empty correlation registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		pending: make(map[string]*pendingRequest),
		logger:  logger.With().Str("component", "correlation-registry").Logger(),
	}
}

// Register creates a pending entry for correlationID and returns the channel
// the outcome will be delivered on. The channel is buffered so resolution
// never blocks on the waiter.
func (r *Registry) Register(correlationID, stepName, workflowID string) (<-chan StepOutcome, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	if _, exists := r.pending[correlationID]; exists {
		return nil, errors.Wrapf(ErrDuplicateCorrelationID, "correlation id %s", correlationID)
	}

	request := &pendingRequest{
		stepName:   stepName,
		workflowID: workflowID,
		outcome:    make(chan StepOutcome, 1),
	}
	r.pending[correlationID] = request

	return request.outcome, nil
}

// Resolve delivers a successful reply to the pending entry. Returns false if
// no entry exists, which is expected for replies arriving after expiry.
func (r *Registry) Resolve(correlationID string, data map[string]interface{}) bool {
	request, ok := r.take(correlationID)
	if !ok {
		return false
	}

	request.outcome <- StepOutcome{Data: data}

	r.logger.Debug().
		Str("correlation_id", correlationID).
		Str("step", request.stepName).
		Str("workflow_id", request.workflowID).
		Msg("resolved pending request")

	return true
}

// Reject delivers an error reply to the pending entry. Returns false if no
// entry exists.
func (r *Registry) Reject(correlationID string, err error) bool {
	request, ok := r.take(correlationID)
	if !ok {
		return false
	}

	request.outcome <- StepOutcome{Err: err}

	r.logger.Debug().
		Str("correlation_id", correlationID).
		Str("step", request.stepName).
		Str("workflow_id", request.workflowID).
		Err(err).
		Msg("rejected pending request")

	return true
}

// Expire removes the pending entry without delivering an outcome. Returns
// false if a reply already resolved it.
func (r *Registry) Expire(correlationID string) bool {
	_, ok := r.take(correlationID)
	return ok
}

// PendingCount returns the number of in-flight requests.
func (r *Registry) PendingCount() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return len(r.pending)
}

func (r *Registry) take(correlationID string) (*pendingRequest, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()

	request, ok := r.pending[correlationID]
	if !ok {
		return nil, false
	}
	delete(r.pending, correlationID)
	return request, true
}
