package rest

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/avast/retry-go"
	"github.com/volatiq/exchange-core/pkg/logging"
	"github.com/volatiq/exchange-core/pkg/market"
)

// Execute performs Get with bounded retries. Transient and rate-limit
// failures are retried with exponential backoff plus random jitter; auth and
// malformed failures propagate immediately. When a connection-reset class
// error is seen the pooled session is rebuilt before the next attempt. After
// the final attempt the last error is returned as-is (a typed *market.Error)
// rather than an aggregate, so callers can classify it.
func (c *Client) Execute(ctx context.Context, endpoint market.Endpoint, params url.Values, signed bool) (json.RawMessage, error) {
	var result json.RawMessage

	err := retry.Do(
		func() error {
			raw, err := c.Get(ctx, endpoint, params, signed)
			if err != nil {
				if !market.IsRetryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			result = raw
			return nil
		},
		retry.Attempts(c.cfg.MaxRetries),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxJitter(c.cfg.MaxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying request",
				logging.String("endpoint", endpoint.String()),
				logging.Int("attempt", int(n+1)),
				logging.Error(err),
			)
			if market.IsConnReset(err) {
				c.Rebuild()
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}
