package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"bookguard/pkg/wire"
)

// ErrRateLimited is returned by SnapshotClient methods when the vendor
// responds 429, so callers can raise a RateLimit incident rather than
// treating it as an ordinary transport error.
var ErrRateLimited = errors.New("feed: rate limited")

// SnapshotClient fetches instrument descriptors over REST. The engine uses
// it once at live startup to backfill the precision/increment metadata a
// fresh WebSocket session doesn't necessarily replay immediately. Retries
// are bounded and limited to transport errors and 5xx; a 429 is surfaced to the caller instead
// of silently retried, since a rate-limit response is itself a signal this
// system needs to observe, not hide.
type SnapshotClient struct {
	http *resty.Client
}

// NewSnapshotClient builds a SnapshotClient against baseURL.
func NewSnapshotClient(baseURL string) *SnapshotClient {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &SnapshotClient{http: http}
}

// Instruments fetches the full instrument descriptor set.
func (c *SnapshotClient) Instruments(ctx context.Context) ([]wire.InstrumentPair, error) {
	var result wire.InstrumentFrame
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/instruments")
	if err != nil {
		return nil, fmt.Errorf("feed: get instruments: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("feed: get instruments: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Pairs, nil
}
