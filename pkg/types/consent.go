package types

// ConsentStatus tracks the consent boundary for a session.
//
// PENDING is the initial state. GRANTED, once set, is never reset within the
// session's lifetime; a later revocation moves the status to WITHDRAWN and
// forces the session closed rather than returning it to PENDING.
type ConsentStatus string

const (
	ConsentPending   ConsentStatus = "PENDING"
	ConsentGranted   ConsentStatus = "GRANTED"
	ConsentDenied    ConsentStatus = "DENIED"
	ConsentWithdrawn ConsentStatus = "WITHDRAWN"
)
