// Package connection maintains one resilient WebSocket connection.
//
// The Manager:
//   - Opens and closes the underlying transport on demand
//   - Reconnects automatically with capped exponential backoff
//   - Optionally drops into a degraded fallback mode after reconnection
//     is exhausted, probing for a live connection periodically
//   - Queues outbound messages while connecting and flushes them in order
package connection
