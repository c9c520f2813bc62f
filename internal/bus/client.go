package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// Client publishes and subscribes to document events under one prefix.
// Safe for concurrent use.
type Client struct {
	rdb    *redis.Client
	prefix string
	newID  func() string
}

// Option configures a Client.
type Option func(*Client)

// WithIDs overrides envelope id generation. Tests use it for stable ids.
func WithIDs(gen func() string) Option {
	return func(c *Client) { c.newID = gen }
}

// NewClient connects to Redis with redisOpts. prefix namespaces every
// channel and must not be empty.
func NewClient(redisOpts *redis.Options, prefix string, opts ...Option) (*Client, error) {
	if prefix == "" {
		return nil, fmt.Errorf("channel prefix cannot be empty")
	}
	if strings.ContainsAny(prefix, ":*") {
		return nil, fmt.Errorf("channel prefix %q must not contain ':' or '*'", prefix)
	}
	c := &Client{
		rdb:    redis.NewClient(redisOpts),
		prefix: prefix,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Prefix returns the channel namespace.
func (c *Client) Prefix() string { return c.prefix }

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish sends env on its document's events channel, assigning an id if
// env has none. It returns the number of subscribers that received it.
func (c *Client) Publish(ctx context.Context, env Envelope) (int64, error) {
	if env.DocID == "" {
		return 0, fmt.Errorf("publish %s: envelope has no doc id", env.Type)
	}
	if env.ID == "" {
		env.ID = c.newID()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("publish %s: marshal: %w", env.Type, err)
	}
	n, err := c.rdb.Publish(ctx, EventsChannel(c.prefix, env.DocID), payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return n, nil
}

// PublishMsg converts a doc message with EnvelopeFor and publishes it.
func (c *Client) PublishMsg(ctx context.Context, msg any) error {
	env, err := EnvelopeFor(msg)
	if err != nil {
		return err
	}
	_, err = c.Publish(ctx, env)
	return err
}

// Subscription is an active subscription to document events.
// Caller must call Close() when done.
type Subscription struct {
	events <-chan Envelope
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of envelopes. It is closed when the
// subscription is closed or its context is cancelled.
func (s *Subscription) Events() <-chan Envelope {
	return s.events
}

// Errors returns decode failures. The subscription continues after an
// error; the offending message is skipped. Failures beyond the channel's
// buffer are dropped, so callers that only read Events never stall.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe delivers the events of one document.
func (c *Client) Subscribe(ctx context.Context, id ir.DocID) (*Subscription, error) {
	return c.subscribe(ctx, c.rdb.Subscribe(ctx, EventsChannel(c.prefix, id)))
}

// SubscribeAll delivers the events of every document under the prefix.
func (c *Client) SubscribeAll(ctx context.Context) (*Subscription, error) {
	return c.subscribe(ctx, c.rdb.PSubscribe(ctx, AllEventsPattern(c.prefix)))
}

func (c *Client) subscribe(ctx context.Context, pubsub *redis.PubSub) (*Subscription, error) {
	// Wait for the subscription to be confirmed so a publish that follows
	// is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	events := make(chan Envelope, 10)
	errs := make(chan error, 10)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(events)
		defer close(errs)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					// Errors are dropped while nobody drains them so
					// events keep flowing.
					select {
					case errs <- fmt.Errorf("failed to unmarshal event on %s: %w", msg.Channel, err):
					default:
					}
					continue
				}

				select {
				case events <- env:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{events: events, errors: errs, cancel: cancel}, nil
}
