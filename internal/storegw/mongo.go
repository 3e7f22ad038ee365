// Package storegw implements the document-store gateways: the metadata
// store (C1), the caption store (C2), and the tag graph (C3), all backed by
// MongoDB. Grounded on gemini_caption/mongo_collections/*.py.
package storegw

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"danbooru-captioner/internal/reliability"
)

// Client wraps a mongo.Client with the database names this pipeline uses
// and a manager handing out one named circuit breaker per gateway (pics,
// captions, tags), so a wedged caption-store call can't trip the breaker
// guarding metadata reads.
type Client struct {
	mc        *mongo.Client
	breakers  *reliability.CircuitBreakerManager
	PicsDB    string
	TagsDB    string
	OutcomeDB string
}

// NewClient connects to uri and returns a Client. The caller owns
// disconnecting it via Close.
func NewClient(ctx context.Context, uri string) (*Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mc, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := mc.Ping(connectCtx, nil); err != nil {
		return nil, err
	}
	return &Client{
		mc: mc,
		breakers: reliability.NewCircuitBreakerManager(reliability.CircuitBreakerConfig{
			MaxRequests:  5,
			Interval:     60 * time.Second,
			Timeout:      30 * time.Second,
			FailureRatio: 0.5,
			MinRequests:  10,
		}),
		PicsDB:    "danbooru_pics",
		TagsDB:    "danbooru_tags",
		OutcomeDB: "gemini_captions_danbooru",
	}, nil
}

// BreakerStates returns a health snapshot of every gateway breaker that has
// handled at least one call, for the circuit-state metrics gauge.
func (c *Client) BreakerStates() []reliability.HealthCheck {
	return c.breakers.HealthChecks()
}

// Close disconnects the underlying mongo client.
func (c *Client) Close(ctx context.Context) error {
	return c.mc.Disconnect(ctx)
}

// collection resolves a collection handle in the given database.
func (c *Client) collection(db, name string) *mongo.Collection {
	return c.mc.Database(db).Collection(name)
}

// withBreaker executes fn through the named gateway's circuit breaker
// (created lazily on first use). Errors surface to the caller as transient
// (spec.md §4.1: "callers treat them as transient and retry at a higher
// level").
func withBreaker[T any](c *Client, name string, fn func() (T, error)) (T, error) {
	var zero T
	v, err := c.breakers.GetBreaker(name).Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	result, _ := v.(T)
	return result, nil
}
