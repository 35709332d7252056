package generate

import "github.com/careline-ai/careline/pkg/types"

// Fixed session texts. These are deliberately static: consent, closure, and
// crisis wording must not vary with model availability or sampling.
const (
	// ConsentPrompt is presented on session start and repeated while consent
	// is pending.
	ConsentPrompt = "Welcome. I'm here to provide emotional support and coping strategies.\n\n" +
		"Important: this is not medical treatment or therapy, and I cannot diagnose or treat mental health conditions.\n\n" +
		"Before we begin, I need your consent to:\n" +
		"- provide emotional support and coping techniques\n" +
		"- assess safety and escalate to human help if needed\n" +
		"- store our conversation with personal information removed\n\n" +
		"Do you consent to proceed? You can withdraw consent at any time."

	// ConsentGrantedReply acknowledges consent and opens triage.
	ConsentGrantedReply = "Thank you for your consent. I'm here to provide emotional support and coping strategies. " +
		"What brings you here today?"

	// ConsentDeniedReply acknowledges refusal. The session stays open until
	// the consent window expires, in case the user changes their mind.
	ConsentDeniedReply = "I understand and respect your decision. I'm still here if you change your mind. Take care."

	// ConsentRevokedReply acknowledges withdrawal and closure.
	ConsentRevokedReply = "I understand. I've ended our session. If you ever want support again, you're welcome back anytime. Take care."

	// ExitReply closes a session on explicit user exit.
	ExitReply = "Take care of yourself. Remember that support is always available when you need it."

	// SessionLimitReply closes a session that reached its message cap.
	SessionLimitReply = "We've reached the end of this session. Thank you for talking with me today. " +
		"If you need continued support, please reach out to the resources we discussed, or start a new session anytime."

	// EscalationNoticeReply is shown when a session is being handed to a
	// human counselor.
	EscalationNoticeReply = "I think you would benefit from talking with a trained human counselor right now. " +
		"Let me connect you with support. I'll stay with you until the connection is established."
)

// systemPrompt returns the phase-scoped system prompt for model completions.
func systemPrompt(phase types.Phase) string {
	switch phase {
	case types.PhaseTriage:
		return "You are a welcoming and compassionate support-line assistant conducting initial triage. " +
			"Ask open-ended questions to understand what brings the person here and how urgent their need is. " +
			"Never diagnose or promise outcomes. Be trauma-informed, avoid triggering language, and keep responses under 150 words."
	case types.PhaseResources:
		return "You are a resource specialist for a support line. Present the provided support resources clearly " +
			"and accessibly, explain what each offers, and encourage the person to reach out. " +
			"Do not make medical recommendations. Keep responses under 200 words."
	default:
		return "You are an empathetic listener and emotional support specialist. " +
			"Use reflective listening, validate emotions without minimizing, and offer gentle coping suggestions. " +
			"Never diagnose mental health conditions or provide medical treatment. Avoid giving advice unless asked. " +
			"Keep responses under 200 words."
	}
}

// triagePrompt condenses a presenting concern for hand-off context.
const triagePrompt = "Summarize the person's presenting concern in two sentences or fewer, " +
	"in neutral clinical-adjacent language suitable for a counselor hand-off. " +
	"State the concern and any urgency signals. Output only the summary."

// FallbackReply returns the fixed safe text for a phase, used whenever the
// generation collaborator fails, times out, or is not configured.
func FallbackReply(phase types.Phase) string {
	switch phase {
	case types.PhaseInit:
		return ConsentPrompt
	case types.PhaseTriage:
		return "Thank you for sharing that with me. I'm here to listen and support you. " +
			"Can you tell me a little more about what's been going on?"
	case types.PhaseResources:
		return "Here are some resources that may help. Please reach out to any of them; " +
			"they're staffed by people who want to support you."
	case types.PhaseEscalate:
		return EscalationNoticeReply
	default:
		return "I hear you, and what you're feeling matters. I'm here to listen and support you. " +
			"While I'm here for you, you might also benefit from talking with a crisis counselor " +
			"who can provide more specialized help."
	}
}
