package dynsec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mqtt-access/internal/broker"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/mqtt"
)

// DefaultResponseTimeout is how long SendCommands waits for a whole batch.
const DefaultResponseTimeout = 10 * time.Second

// controlQoS is used both for publishing batches and for the response subscription.
const controlQoS byte = 2

// Transport is the publish/subscribe connection to the broker.
// *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Config configures a Client.
type Config struct {
	ControlTopic    string
	ResponseTopic   string
	ResponseTimeout time.Duration
}

// Client sends batches of control commands and waits for their answers.
//
// SendCommands is safe for concurrent use; concurrent batches only share
// the correlator's map.
type Client struct {
	transport  Transport
	correlator *Correlator
	cfg        Config
	logger     Logger
}

// New creates a Client and subscribes to the response topic. The
// subscription lives as long as the transport.
func New(transport Transport, cfg Config) (*Client, error) {
	if cfg.ControlTopic == "" {
		cfg.ControlTopic = mqtt.TopicDynSecControl
	}
	if cfg.ResponseTopic == "" {
		cfg.ResponseTopic = mqtt.TopicDynSecResponse
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}

	c := &Client{
		transport:  transport,
		correlator: NewCorrelator(),
		cfg:        cfg,
		logger:     noopLogger{},
	}

	if err := transport.Subscribe(cfg.ResponseTopic, controlQoS, c.correlator.HandleMessage); err != nil {
		return nil, fmt.Errorf("%w: subscribing to %s: %w", broker.ErrTransport, cfg.ResponseTopic, err)
	}
	return c, nil
}

// SetLogger sets the logger for the client and its correlator.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
	c.correlator.SetLogger(logger)
}

// ResponseTopic returns the topic the client listens on for answers.
func (c *Client) ResponseTopic() string {
	return c.cfg.ResponseTopic
}

// Pending returns the number of commands awaiting an answer.
func (c *Client) Pending() int {
	return c.correlator.Pending()
}

// SendCommands publishes cmds as one batch and returns one Result per
// command, in submission order.
//
// Waiters are registered before publishing so a fast answer cannot be
// missed. A publish failure returns broker.ErrTransport at once; a missing
// answer fails the whole batch with broker.ErrTimeout. Nothing is retried.
func (c *Client) SendCommands(ctx context.Context, cmds []Command) ([]Result, error) {
	if len(cmds) == 0 {
		return nil, ErrEmptyBatch
	}

	batch := make([]Command, len(cmds))
	waiters := make([]Waiter, 0, len(cmds))
	for i, cmd := range cmds {
		if cmd.CorrelationID == "" {
			cmd.CorrelationID = uuid.NewString()
		}
		w, err := c.correlator.Register(cmd.CorrelationID)
		if err != nil {
			c.correlator.forgetWaiters(waiters)
			return nil, err
		}
		batch[i] = cmd
		waiters = append(waiters, w)
	}

	payload, err := json.Marshal(commandBatch{Commands: batch})
	if err != nil {
		c.correlator.forgetWaiters(waiters)
		return nil, fmt.Errorf("encoding command batch: %w", err)
	}

	if err := c.transport.Publish(c.cfg.ControlTopic, payload, controlQoS, false); err != nil {
		c.correlator.forgetWaiters(waiters)
		return nil, fmt.Errorf("%w: publishing %d commands: %w", broker.ErrTransport, len(batch), err)
	}

	responses, err := c.correlator.AwaitAll(ctx, waiters, c.cfg.ResponseTimeout)
	if err != nil {
		c.logger.Warn("dynsec batch failed",
			"commands", len(batch),
			"first_command", string(batch[0].Kind),
			"error", err,
		)
		return nil, err
	}

	results := make([]Result, len(batch))
	for i, cmd := range batch {
		results[i] = Result{Command: cmd, Response: responses[cmd.CorrelationID]}
	}
	return results, nil
}
