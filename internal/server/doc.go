// Package server provides the HTTP gateway for the careline API.
//
// The gateway surfaces the session lifecycle over a small JSON API and owns
// the long-running pieces around it: the session registry, the timeout
// sweeper, and the observability sink all start and stop with the server.
//
// # API Endpoints
//
//   - POST   /api/sessions                    open a session (INIT, consent pending)
//   - GET    /api/sessions                    list session records, newest first
//   - GET    /api/sessions/{id}               one session record
//   - DELETE /api/sessions/{id}               operator close
//   - POST   /api/sessions/{id}/turns         process one user turn
//   - POST   /api/sessions/{id}/consent       record an explicit grant or revocation
//   - GET    /api/sessions/{id}/events        replay the event ledger from a sequence
//   - GET    /api/events                      live event feed (SSE), optional session filter
//   - GET    /api/resources                   hotline directory lookup
//   - GET    /health                          liveness
//   - GET    /metrics                         Prometheus metrics
//
// # Error Vocabulary
//
// Errors use a fixed JSON envelope with a machine-readable code. The ones
// clients should branch on: NOT_FOUND for unknown session ids,
// SESSION_CLOSED (409) for any operation against a terminal session, and
// INVALID_REQUEST for malformed input.
//
// # Event Streaming
//
// Every ledger append is published on the in-process bus; /api/events relays
// the bus over Server-Sent Events with heartbeats. The stream is live-only.
// Catch-up reads go through the replay endpoint, which serves the durable
// ledger; the two compose into resume-from-sequence clients.
//
// All text carried by responses and events is sanitized. Raw user input
// never crosses this boundary.
package server
