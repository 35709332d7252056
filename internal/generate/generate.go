// Package generate produces outbound session messages through the provider
// layer. It never fails upward: provider errors, timeouts, and the absence
// of any configured model all degrade to fixed safe texts, so phase
// progression is never blocked on a language model.
package generate

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/internal/provider"
	"github.com/careline-ai/careline/pkg/types"
)

// Exchange is one prior user/assistant pair of sanitized texts.
type Exchange struct {
	User      string
	Assistant string
}

// Service is the language-generation collaborator.
type Service struct {
	chat    model.ToolCallingChatModel
	modelID string
	timeout time.Duration
}

// NewService resolves the configured model from the registry. When no
// provider is usable the service still works, answering every request with
// the per-phase safe fallback.
func NewService(registry *provider.Registry, cfg types.GenerateConfig) *Service {
	s := &Service{timeout: cfg.Timeout.Std()}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}

	if registry == nil {
		return s
	}
	m, err := registry.DefaultModel()
	if err != nil {
		logging.Warn().Err(err).Msg("no generation model available, replies degrade to safe fallbacks")
		return s
	}
	p, err := registry.Get(m.ProviderID)
	if err != nil {
		return s
	}
	s.chat = p.ChatModel()
	s.modelID = m.ID
	logging.Info().Str("provider", m.ProviderID).Str("model", m.ID).Msg("generation model resolved")
	return s
}

// NewServiceWithModel wires an explicit chat model. Used by tests and
// embedders that manage their own provider setup.
func NewServiceWithModel(chat model.ToolCallingChatModel, cfg types.GenerateConfig) *Service {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{chat: chat, timeout: timeout}
}

// Degraded reports whether the service has no model and always falls back.
func (s *Service) Degraded() bool { return s.chat == nil }

// Reply produces the outbound message for a phase from sanitized context.
// history is newest-last. The second return is true when the fixed fallback
// was used instead of a model completion.
func (s *Service) Reply(ctx context.Context, phase types.Phase, history []Exchange, userText string) (string, bool) {
	if s.chat == nil {
		return FallbackReply(phase), true
	}

	msgs := buildMessages(systemPrompt(phase), history, userText)
	text, err := s.complete(ctx, msgs)
	if err != nil || text == "" {
		logging.Warn().Err(err).Str("phase", string(phase)).Msg("generation failed, using safe fallback")
		return FallbackReply(phase), true
	}
	return text, false
}

// TriageSummary condenses the sanitized presenting concern into a short
// summary for hand-off context. On failure the concern itself is returned
// with degraded=true so triage can proceed on partial information.
func (s *Service) TriageSummary(ctx context.Context, concern string) (string, bool) {
	if s.chat == nil {
		return concern, true
	}

	msgs := []*schema.Message{
		schema.SystemMessage(triagePrompt),
		schema.UserMessage(concern),
	}
	text, err := s.complete(ctx, msgs)
	if err != nil || text == "" {
		logging.Warn().Err(err).Msg("triage summary failed, proceeding with raw concern")
		return concern, true
	}
	return text, false
}

func (s *Service) complete(ctx context.Context, msgs []*schema.Message) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.chat.Generate(cctx, msgs)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Content), nil
}

func buildMessages(system string, history []Exchange, userText string) []*schema.Message {
	msgs := make([]*schema.Message, 0, 2*len(history)+2)
	msgs = append(msgs, schema.SystemMessage(system))
	for _, ex := range history {
		if ex.User != "" {
			msgs = append(msgs, schema.UserMessage(ex.User))
		}
		if ex.Assistant != "" {
			msgs = append(msgs, schema.AssistantMessage(ex.Assistant, nil))
		}
	}
	msgs = append(msgs, schema.UserMessage(userText))
	return msgs
}
