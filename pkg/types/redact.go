package types

// EntityType identifies a category of sensitive content.
type EntityType string

const (
	EntityPhone      EntityType = "PHONE"
	EntityEmail      EntityType = "EMAIL"
	EntitySSN        EntityType = "SSN"
	EntityAddress    EntityType = "ADDRESS"
	EntityName       EntityType = "NAME"
	EntityDOB        EntityType = "DOB"
	EntityCreditCard EntityType = "CREDIT_CARD"
	EntityIPAddr     EntityType = "IP_ADDR"

	// EntityFullMask marks the fail-closed case where the whole input was
	// treated as sensitive and masked as a single span.
	EntityFullMask EntityType = "FULL_MASK"
)

// Entity is one detected sensitive span. Start/End are byte offsets into the
// raw input, half-open [Start, End). Token is the stable replacement written
// into the sanitized text: equal raw values always produce equal tokens, so a
// caller holding a consent-gated token map can reverse the redaction.
type Entity struct {
	Type  EntityType `json:"type"`
	Start int        `json:"start"`
	End   int        `json:"end"`
	Token string     `json:"token"`
}
