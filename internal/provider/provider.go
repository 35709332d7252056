// Package provider implements language-model provider adapters over the
// Eino framework.
package provider

import (
	"github.com/cloudwego/eino/components/model"

	"github.com/careline-ai/careline/pkg/types"
)

// Provider is a configured language-model backend.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the list of available models.
	Models() []types.Model

	// ChatModel returns the Eino ChatModel for this provider.
	ChatModel() model.ToolCallingChatModel
}
