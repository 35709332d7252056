/*
Package event provides a type-safe pub/sub event system for the careline server.

The event system enables decoupled communication between components: the ledger
publishes every appended event here, and the SSE gateway and observability sink
subscribe without direct dependencies on the session core.

# Architecture

The package is built on top of watermill's gochannel for infrastructure while
maintaining direct-call semantics to preserve type information. It provides both
synchronous and asynchronous event publishing patterns.

# Event Types

Bus event types mirror the ledger event kinds (see pkg/types.EventKind):

Session lifecycle:
  - session.created, session.closed, session.archived

Phase and turn flow:
  - phase.changed, turn.processed, guard.violation

Risk:
  - risk.assessed, risk.degraded

Consent:
  - consent.granted, consent.denied, consent.revoked

Escalation:
  - escalation.directive, escalation.attempt, escalation.resolved

Resources and observability:
  - resource.delivered, observe.dropped, resources.reloaded

# Basic Usage

Publishing events:

	// Asynchronous publishing (non-blocking)
	event.Publish(event.FromLedger(appended))

	// Synchronous publishing (blocking until all subscribers complete)
	event.PublishSync(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionData{Info: session},
	})

Subscribing to specific events:

	unsubscribe := event.Subscribe(event.PhaseChanged, func(e event.Event) {
		data := e.Data.(event.LedgerData)
		logging.Info().Str("session_id", data.Event.SessionID).Msg("phase changed")
	})
	defer unsubscribe()

Subscribing to all events:

	unsubscribe := event.SubscribeAll(func(e event.Event) {
		logging.Debug().Str("type", string(e.Type)).Msg("event received")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers are called synchronously in the publisher's
goroutine. To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly (avoid long-running operations)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber (no re-entrant publishing)
  - Never acquire locks that the publisher might hold

Example of a safe subscriber:

	event.SubscribeAll(func(e event.Event) {
	    select {
	    case eventChan <- e:
	        // Event sent successfully
	    default:
	        // Channel full, drop event to avoid blocking
	    }
	})

The observability sink follows exactly this pattern with a bounded queue and
drop-oldest overflow handling.

# Custom Event Bus

For testing or isolation, you can create custom bus instances:

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.SessionCreated, handler)
	bus.PublishSync(event.Event{Type: event.SessionCreated, Data: data})

# Testing

The package provides utilities for testing:

	// Reset global bus state (use in test cleanup)
	event.Reset()

# Thread Safety

The event bus is thread-safe and can be used concurrently from multiple goroutines.
Both publishing and subscribing operations are protected by internal synchronization.

# Performance Considerations

  - Asynchronous publishing (Publish) creates a goroutine per subscriber per event
  - Synchronous publishing (PublishSync) calls all subscribers in the current goroutine
  - Use PublishSync for critical events where ordering matters
  - Use Publish for fire-and-forget notifications

# Integration with Watermill

The package uses watermill's gochannel internally, providing access to the underlying
pubsub infrastructure for advanced use cases:

	pubsub := event.PubSub()
	// Use watermill features like middleware, routing, etc.

This allows future migration to distributed message brokers if needed while maintaining
the current API.
*/
package event
