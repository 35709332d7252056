// Package session is the careline core: it owns the conversation lifecycle
// state machine and orchestrates the redaction, risk, generation, resource
// and escalation collaborators around a durable per-session event ledger.
//
// # Architecture Overview
//
// The package is built around four pieces:
//
//   - Registry: session CRUD, per-session turn admission, and the consent
//     and close operations
//   - turn pipeline: redact, record, assess risk, then act by phase
//   - Sweeper: lifecycle timeout enforcement and archive retention
//   - Replay: deterministic reconstruction of session state from the ledger
//
// # Lifecycle
//
// A session moves through INIT, CONSENTED, TRIAGE and SUPPORT_LOOP, with
// transient detours to RISK_CHECK and RESOURCES, and terminates in CLOSE.
// ESCALATE is reachable from every non-terminal phase: a risk verdict at or
// above the escalation threshold preempts whatever the turn would otherwise
// have done. CLOSE is absorbing; a turn arriving after it is refused with
// ErrSessionClosed and leaves no trace in the ledger.
//
// # Turn Admission
//
// Turns on one session are strictly serialized. Each live session holds a
// processing slot; a second turn queues until the first has finished and its
// events are durably appended, so ledger sequence order always matches turn
// admission order. Different sessions never contend with each other. Sweep
// closes go through the same slot and therefore never interrupt an
// in-flight turn.
//
// # Safety Boundary
//
// Raw turn text exists only inside the pipeline. Everything that leaves it,
// ledger payloads, stored records, collaborator calls and hand-off
// summaries, carries the sanitized form. When redaction itself fails the
// turn proceeds on a full mask rather than exposing the original text.
//
// # Storage Layout
//
//	session/{sessionID}  -> open session record
//	archive/{sessionID}  -> redacted record written on CLOSE
//
// The open record is rewritten after every turn, so a restarted process
// restores sessions lazily on their next turn and the sweeper still finds
// sessions created by a previous run.
package session
