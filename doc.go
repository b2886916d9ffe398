// Package exchange-core turns an unreliable, rate-limited derivatives
// exchange API into a single coherent market snapshot per symbol.
//
// The module is the connectivity and resilience layer of a trading-signal
// pipeline. It owns every interaction with the exchange, REST and WebSocket
// alike, and guarantees its consumers two things: FetchSnapshot always
// returns a structurally complete snapshot, and stream subscriptions
// survive disconnects through automatic replay.
//
// Core features:
//
//   - Sliding-window rate limiting per endpoint and globally, with feedback
//     from the exchange's own rate-limit response headers
//   - Per-endpoint circuit breakers that short-circuit persistently failing
//     endpoints and self-heal after a recovery timeout
//   - Bounded retries with exponential backoff and jitter, with error
//     classification deciding what is worth retrying
//   - A pooled, lazily built HTTP session that is rebuilt on transport
//     failure, plus HMAC-SHA256 request signing for authenticated calls
//   - A self-healing WebSocket connection with keepalive, silence
//     detection, capped-backoff reconnection and full subscription replay
//   - Concurrent fan-out aggregation that merges whatever sub-fetches
//     succeeded and substitutes documented neutral defaults for the rest
//
// The two operations the rest of the system depends on:
//
//	agg := snapshot.New(restClient, limiter, brk, snapshot.DefaultOptions(), logger)
//	snap := agg.FetchSnapshot(ctx, "BTCUSDT") // never fails
//
//	conn := stream.NewConn(stream.DefaultConfig(wsURL))
//	_ = conn.Connect(ctx)
//	_ = conn.Subscribe("liquidation.BTCUSDT", handler)
//
// Degraded data is discoverable only through the snapshot's Meta success
// flags, never through missing fields or errors.
package exchangecore
