package event

import "github.com/careline-ai/careline/pkg/types"

// LedgerData wraps a ledger event for bus delivery. The ledger publishes one
// of these for every appended event; the bus Type mirrors the event kind so
// subscribers can filter without decoding.
type LedgerData struct {
	Event *types.Event `json:"event"`
}

// FromLedger builds a bus event from an appended ledger event.
func FromLedger(e *types.Event) Event {
	return Event{Type: EventType(e.Kind), Data: LedgerData{Event: e}}
}

// SessionData carries a session snapshot alongside lifecycle events.
type SessionData struct {
	Info *types.Session `json:"info"`
}

// ResourcesReloadedData is the data for resources.reloaded events.
type ResourcesReloadedData struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}
