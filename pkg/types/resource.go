package types

// Resource is one hotline/support service entry in the directory.
type Resource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`

	Phone string `json:"phone,omitempty"`
	Text  string `json:"text,omitempty"` // e.g. "Text HOME to 741741"
	URL   string `json:"url,omitempty"`

	// Locales the entry serves, as glob patterns ("en-US", "en-*", "*").
	Locales []string `json:"locales,omitempty"`

	Description  string `json:"description,omitempty"`
	Available247 bool   `json:"available247,omitempty"`
}

// ResourceBundle is the result of a directory lookup.
type ResourceBundle struct {
	Locale          string     `json:"locale"`
	Category        string     `json:"category"`
	Resources       []Resource `json:"resources"`
	EmergencyNumber string     `json:"emergencyNumber"`
}
