// Package redact is the gate between raw conversational text and anything
// that persists, logs, or emits it. The gate is a pure transform: raw text in,
// sanitized text plus a manifest of detected entities out. Bias is
// conservative: ambiguous input is redacted, and any internal inconsistency
// fails closed by masking the entire input.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/careline-ai/careline/pkg/types"
)

// ErrRedactionFailed reports that the gate could not safely account for its
// own output. The returned text is always the full mask in that case; raw
// text never travels with this error.
var ErrRedactionFailed = errors.New("redaction failed")

// Redactor applies a compiled rule pack. Immutable after construction, safe
// for concurrent use.
type Redactor struct {
	rules []compiledRule
}

// New builds a Redactor from the embedded rule pack.
func New() (*Redactor, error) {
	return NewFromPack(defaultPatterns)
}

// NewFromPack builds a Redactor from a caller-supplied YAML rule pack.
func NewFromPack(data []byte) (*Redactor, error) {
	rules, err := compilePack(data)
	if err != nil {
		return nil, err
	}
	return &Redactor{rules: rules}, nil
}

// Redact sanitizes text and returns the entity manifest. On any internal
// failure the whole input is masked as a single FULL_MASK entity and
// ErrRedactionFailed is returned alongside the masked output, so callers can
// still proceed with safe text while recording the failure.
func (r *Redactor) Redact(text string) (string, []types.Entity, error) {
	if text == "" {
		return "", nil, nil
	}

	spans := r.detect(text)
	sanitized, entities := substitute(text, spans)

	if err := r.verify(text, sanitized, entities); err != nil {
		return r.failClosed(text, err)
	}
	return sanitized, entities, nil
}

// Sanitize returns only the sanitized text. It never fails open: on error the
// full mask is returned.
func (r *Redactor) Sanitize(text string) string {
	sanitized, _, _ := r.Redact(text)
	return sanitized
}

// SanitizeMap sanitizes every value of a string map, for caller-supplied
// metadata headed for storage.
func (r *Redactor) SanitizeMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = r.Sanitize(v)
	}
	return out
}

type span struct {
	typ        types.EntityType
	priority   int
	start, end int
}

// detect finds all rule matches and resolves overlaps: higher priority wins,
// then the earlier start, then the longer span. Result is ordered by start
// and non-overlapping.
func (r *Redactor) detect(text string) []span {
	var cands []span
	for _, rule := range r.rules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			cands = append(cands, span{typ: rule.typ, priority: rule.priority, start: loc[0], end: loc[1]})
		}
	}
	if len(cands) == 0 {
		return nil
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].priority != cands[j].priority {
			return cands[i].priority > cands[j].priority
		}
		if cands[i].start != cands[j].start {
			return cands[i].start < cands[j].start
		}
		return cands[i].end-cands[i].start > cands[j].end-cands[j].start
	})

	var accepted []span
	for _, c := range cands {
		overlaps := false
		for _, a := range accepted {
			if c.start < a.end && a.start < c.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c)
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })
	return accepted
}

// substitute splices tokens over the accepted spans and builds the manifest.
func substitute(text string, spans []span) (string, []types.Entity) {
	if len(spans) == 0 {
		return text, nil
	}
	var b strings.Builder
	entities := make([]types.Entity, 0, len(spans))
	prev := 0
	for _, s := range spans {
		b.WriteString(text[prev:s.start])
		tok := Token(s.typ, text[s.start:s.end])
		b.WriteString(tok)
		entities = append(entities, types.Entity{Type: s.typ, Start: s.start, End: s.end, Token: tok})
		prev = s.end
	}
	b.WriteString(text[prev:])
	return b.String(), entities
}

// Token derives the stable replacement for a raw value: the entity type plus
// the first 8 hex chars of SHA-256(raw). Equal raw values always yield equal
// tokens, which is what makes consent-gated reverse lookup possible without
// the gate ever storing anything.
func Token(typ types.EntityType, raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("[%s:%s]", typ, hex.EncodeToString(sum[:4]))
}

// failClosed masks the entire input as one FULL_MASK entity.
func (r *Redactor) failClosed(text string, cause error) (string, []types.Entity, error) {
	tok := Token(types.EntityFullMask, text)
	entity := types.Entity{Type: types.EntityFullMask, Start: 0, End: len(text), Token: tok}
	return tok, []types.Entity{entity}, fmt.Errorf("%w: %v", ErrRedactionFailed, cause)
}
