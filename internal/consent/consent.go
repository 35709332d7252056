// Package consent interprets consent signals arriving from user turns
// and from the consent API boundary.
package consent

import (
	"fmt"
	"strings"
	"unicode"
)

// Decision is the interpretation of a user turn with respect to consent.
type Decision string

const (
	// DecisionGranted means the turn contained an explicit affirmative.
	DecisionGranted Decision = "granted"
	// DecisionDenied means the turn contained an explicit refusal.
	DecisionDenied Decision = "denied"
	// DecisionRevoked means the turn withdrew previously granted consent.
	DecisionRevoked Decision = "revoked"
	// DecisionUnclear means the turn carried no explicit consent signal.
	// Unclear input never grants: interpretation fails closed.
	DecisionUnclear Decision = "unclear"
)

// Action is a consent mutation requested through the API.
type Action string

const (
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"
)

// ParseAction validates a consent action string from the API boundary.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionGrant:
		return ActionGrant, nil
	case ActionRevoke:
		return ActionRevoke, nil
	default:
		return "", fmt.Errorf("unknown consent action %q", s)
	}
}

// Affirmative and refusal indicators. Single words are matched on word
// boundaries; multi-word phrases are matched as substrings of the
// normalized text.
var (
	grantWords   = []string{"yes", "yeah", "yep", "okay", "ok", "sure", "proceed", "continue", "start", "begin", "ready", "agreed"}
	grantPhrases = []string{"i consent", "i agree", "go ahead", "sounds good", "let's start", "let's begin"}

	denyWords   = []string{"no", "nope", "decline", "later"}
	denyPhrases = []string{
		"i decline", "don't consent", "do not consent", "don't agree",
		"do not agree", "not now", "maybe later", "not sure", "need to think",
	}

	revokeWords   = []string{"revoke", "withdraw"}
	revokePhrases = []string{
		"revoke my consent", "withdraw my consent", "take back my consent",
		"stop sharing", "delete my data",
	}

	exitWords   = []string{"bye", "goodbye", "quit", "exit"}
	exitPhrases = []string{
		"i'm done", "i am done", "gotta go", "i have to go", "have to leave",
		"end session", "end the session", "end this session", "that's all",
	}
)

// Interpret classifies a user turn. Revocation dominates refusal, and
// refusal dominates affirmation, so mixed input never grants.
func Interpret(text string) Decision {
	norm, words := normalize(text)
	if norm == "" {
		return DecisionUnclear
	}
	switch {
	case matches(norm, words, revokeWords, revokePhrases):
		return DecisionRevoked
	case matches(norm, words, denyWords, denyPhrases):
		return DecisionDenied
	case matches(norm, words, grantWords, grantPhrases):
		return DecisionGranted
	default:
		return DecisionUnclear
	}
}

// IsExit reports whether a turn is an explicit request to end the session.
func IsExit(text string) bool {
	norm, words := normalize(text)
	return matches(norm, words, exitWords, exitPhrases)
}

func normalize(text string) (string, map[string]bool) {
	norm := strings.ToLower(strings.TrimSpace(text))
	fields := strings.FieldsFunc(norm, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[f] = true
	}
	return norm, words
}

func matches(norm string, words map[string]bool, wordList, phraseList []string) bool {
	for _, w := range wordList {
		if words[w] {
			return true
		}
	}
	for _, p := range phraseList {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}
