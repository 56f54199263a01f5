// Package metered runs calls to rate-limited external APIs behind the cache
// and the quota tracker: cached answers are served without touching the
// quota, and fresh calls are gated, counted and cached.
package metered

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"tripcache/internal/cache"
	"tripcache/internal/cachekey"
	"tripcache/internal/exchangelog"
	"tripcache/internal/quota"
)

// Client combines the cache, the quota tracker and the exchange log.
// Cache and Quota are required; Exchanges may be nil.
type Client struct {
	Cache     cache.Store
	Quota     *quota.Tracker
	Exchanges *exchangelog.Log
	Logger    *slog.Logger
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Request describes a cacheable JSON call.
type Request struct {
	Call      quota.Call
	Partition cache.Partition

	// Identity is hashed into the cache key; equal identities share an entry
	Identity any

	// TTL overrides the partition TTL when positive
	TTL time.Duration
}

// BinaryRequest describes a cacheable call returning raw bytes, such as a photo.
type BinaryRequest struct {
	Call      quota.Call
	Identity  any
	Extension string
	TTL       time.Duration
}

// gate refuses the call when the quota is exhausted or the service is off.
func (c *Client) gate(ctx context.Context, call quota.Call) error {
	if le := c.Quota.Status(ctx, call).LimitError(); le != nil {
		return le
	}
	return nil
}

// track counts a call that already happened. A refusal at this point only
// means a concurrent caller used the last slot, so it is logged.
func (c *Client) track(ctx context.Context, call quota.Call) {
	if err := c.Quota.TrackAPICall(ctx, call); err != nil {
		c.logger().Warn("API call made past the daily limit",
			"service", call.Service, "endpoint", call.Endpoint, "error", err)
	}
}

// Fetch returns the cached answer for req or calls fn, records the call and
// caches its result. A *quota.LimitError is returned without calling fn when
// the quota is exhausted; errors from fn are returned unchanged and nothing
// is cached or counted.
func (c *Client) Fetch(ctx context.Context, req Request, fn func(context.Context) (any, error)) (json.RawMessage, error) {
	key := cachekey.Derive(req.Identity)
	if raw, ok := c.Cache.Get(ctx, key, req.Partition); ok {
		return raw, nil
	}

	if err := c.gate(ctx, req.Call); err != nil {
		return nil, err
	}

	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	c.track(ctx, req.Call)

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s response: %w", req.Call.Service, err)
	}
	c.Cache.Set(ctx, key, json.RawMessage(raw), cache.SetOptions{Partition: req.Partition, TTL: req.TTL})
	return raw, nil
}

// FetchBinary is Fetch for raw bytes stored in the images partition.
func (c *Client) FetchBinary(ctx context.Context, req BinaryRequest, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	key := cachekey.Derive(req.Identity)
	if b, ok := c.Cache.GetBinary(ctx, key, req.Extension); ok {
		return b, nil
	}

	if err := c.gate(ctx, req.Call); err != nil {
		return nil, err
	}

	b, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	c.track(ctx, req.Call)

	c.Cache.SetBinary(ctx, key, b, req.Extension, req.TTL)
	return b, nil
}

// ChatRequest describes a chat-completion call. Completions are never cached.
type ChatRequest struct {
	ItineraryID string
	Model       string
	Messages    []exchangelog.Message
	Options     exchangelog.RequestOptions
	Call        quota.Call
}

// Complete gates the call on the quota, records the request, calls fn,
// records the response or error and counts the call.
func (c *Client) Complete(ctx context.Context, req ChatRequest, fn func(context.Context) (any, error)) (any, error) {
	if err := c.gate(ctx, req.Call); err != nil {
		return nil, err
	}

	var ts string
	if c.Exchanges != nil {
		ts = c.Exchanges.SaveRequest(ctx, req.ItineraryID, req.Messages, req.Model, req.Options)
	}

	resp, err := fn(ctx)
	if c.Exchanges != nil {
		c.Exchanges.SaveResponse(ctx, req.ItineraryID, ts, resp, err)
	}
	if err != nil {
		return nil, err
	}

	c.track(ctx, req.Call)
	return resp, nil
}
