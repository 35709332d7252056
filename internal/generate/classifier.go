package generate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/careline-ai/careline/internal/provider"
	"github.com/careline-ai/careline/pkg/types"
)

// classifierPrompt forces a machine-parseable verdict.
const classifierPrompt = "You are a safety monitoring specialist assessing crisis risk in a support conversation. " +
	"Rate the following message. Always err on the side of caution.\n\n" +
	"Respond with exactly one line in the form:\n" +
	"SEVERITY CONFIDENCE\n" +
	"where SEVERITY is one of NONE, LOW, MEDIUM, HIGH, CRITICAL and CONFIDENCE is a decimal in [0,1].\n" +
	"Example: HIGH 0.85"

var (
	severityRe   = regexp.MustCompile(`\b(CRITICAL|HIGH|MEDIUM|LOW|NONE)\b`)
	confidenceRe = regexp.MustCompile(`\b(0?\.\d+|1\.0+|0|1)\b`)
)

// Classifier adapts a chat model to the risk monitor's classifier contract.
type Classifier struct {
	chat model.ToolCallingChatModel
}

// NewClassifier returns a model-backed classifier, or nil when the registry
// has no usable model. A nil Classifier must not be passed to the risk
// monitor as a non-nil interface; use the returned value directly only when
// it is non-nil.
func NewClassifier(registry *provider.Registry) *Classifier {
	if registry == nil {
		return nil
	}
	m, err := registry.DefaultModel()
	if err != nil {
		return nil
	}
	p, err := registry.Get(m.ProviderID)
	if err != nil {
		return nil
	}
	return &Classifier{chat: p.ChatModel()}
}

// NewClassifierWithModel wires an explicit chat model.
func NewClassifierWithModel(chat model.ToolCallingChatModel) *Classifier {
	return &Classifier{chat: chat}
}

// Classify rates sanitized text. Errors propagate to the monitor, which
// applies its degraded floor rather than failing the turn.
func (c *Classifier) Classify(ctx context.Context, text string) (types.Severity, float64, error) {
	out, err := c.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(classifierPrompt),
		schema.UserMessage(text),
	})
	if err != nil {
		return types.SeverityNone, 0, err
	}
	return parseVerdict(out.Content)
}

// parseVerdict extracts "SEVERITY CONFIDENCE" from model output, tolerating
// surrounding prose.
func parseVerdict(s string) (types.Severity, float64, error) {
	sevName := severityRe.FindString(s)
	if sevName == "" {
		return types.SeverityNone, 0, fmt.Errorf("no severity in classifier output %q", s)
	}
	severity, err := types.ParseSeverity(sevName)
	if err != nil {
		return types.SeverityNone, 0, err
	}

	confidence := 0.5
	if m := confidenceRe.FindString(s); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil && v >= 0 && v <= 1 {
			confidence = v
		}
	}
	return severity, confidence, nil
}
