package dynsec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-access/internal/broker"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Waiter is the pending half of one outstanding command.
type Waiter struct {
	ID string
	ch <-chan Response
}

// Correlator matches asynchronous responses to registered waiters.
//
// The pending map is the only shared mutable state of the control client.
// Resolve removes the entry and delivers under the same lock, so a waiter
// is completed at most once. Channels are buffered, so delivery never
// blocks the transport's delivery goroutine.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan Response
	logger  Logger
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]chan Response),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for dropped and malformed responses.
func (c *Correlator) SetLogger(logger Logger) {
	c.logger = logger
}

// Register creates a waiter for id. It fails with ErrDuplicateCorrelation
// if id is already pending.
func (c *Correlator) Register(id string) (Waiter, error) {
	if id == "" {
		return Waiter{}, fmt.Errorf("%w: empty id", ErrDuplicateCorrelation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[id]; exists {
		return Waiter{}, fmt.Errorf("%w: %s", ErrDuplicateCorrelation, id)
	}

	ch := make(chan Response, 1)
	c.pending[id] = ch
	return Waiter{ID: id, ch: ch}, nil
}

// Resolve completes the waiter registered for resp.CorrelationID.
// It returns false when no waiter matches (late, abandoned or foreign).
func (c *Correlator) Resolve(resp Response) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[resp.CorrelationID]
	if !ok {
		return false
	}
	delete(c.pending, resp.CorrelationID)
	ch <- resp
	return true
}

// Forget removes waiters without resolving them. Unknown ids are ignored.
func (c *Correlator) Forget(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		delete(c.pending, id)
	}
}

// Pending returns the number of outstanding waiters.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// HandleMessage is the transport callback for the response topic.
//
// The broker may coalesce several answers into one message. Entries
// without correlationData and entries nobody waits for are dropped.
func (c *Correlator) HandleMessage(topic string, payload []byte) error {
	var batch responseBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return fmt.Errorf("%w on %s: %w", ErrMalformedResponse, topic, err)
	}

	for _, resp := range batch.Responses {
		if resp.CorrelationID == "" {
			continue
		}
		if !c.Resolve(resp) {
			c.logger.Debug("dropping unmatched dynsec response",
				"command", resp.Command,
				"correlation_id", resp.CorrelationID,
			)
		}
	}
	return nil
}

// AwaitAll blocks until every waiter is resolved, the timeout elapses or
// ctx is done. On timeout the whole batch fails with broker.ErrTimeout and
// partial answers are discarded. Unresolved waiters are always removed.
func (c *Correlator) AwaitAll(ctx context.Context, waiters []Waiter, timeout time.Duration) (map[string]Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	results := make(map[string]Response, len(waiters))
	for _, w := range waiters {
		select {
		case resp := <-w.ch:
			results[w.ID] = resp
		case <-timer.C:
			c.forgetWaiters(waiters)
			return nil, fmt.Errorf("%w: %d of %d responses after %v",
				broker.ErrTimeout, len(results), len(waiters), timeout)
		case <-ctx.Done():
			c.forgetWaiters(waiters)
			return nil, fmt.Errorf("awaiting dynsec responses: %w", ctx.Err())
		}
	}
	return results, nil
}

func (c *Correlator) forgetWaiters(waiters []Waiter) {
	ids := make([]string, len(waiters))
	for i, w := range waiters {
		ids[i] = w.ID
	}
	c.Forget(ids...)
}
