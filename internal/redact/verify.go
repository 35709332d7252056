package redact

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/careline-ai/careline/pkg/types"
)

// verify re-checks the gate's output before release. Three independent
// checks: the manifest must be well-formed (ordered, non-overlapping, in
// bounds), the sanitized text must equal a reconstruction spliced from the
// manifest, and no detection rule may still match the sanitized text.
// Divergence is reported only as diff statistics; the differing content may
// contain the very text the gate exists to suppress.
func (r *Redactor) verify(raw, sanitized string, entities []types.Entity) error {
	expected, err := reconstruct(raw, entities)
	if err != nil {
		return err
	}
	if sanitized != expected {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(expected, sanitized, false)
		changed := 0
		for _, d := range diffs {
			if d.Type != diffmatchpatch.DiffEqual {
				changed++
			}
		}
		return fmt.Errorf("output diverges from manifest reconstruction (%d regions, edit distance %d)",
			changed, dmp.DiffLevenshtein(diffs))
	}
	for _, rule := range r.rules {
		if rule.re.MatchString(sanitized) {
			return fmt.Errorf("%s pattern still present after substitution", rule.typ)
		}
	}
	return nil
}

// reconstruct splices manifest tokens over raw text, validating the manifest
// along the way.
func reconstruct(raw string, entities []types.Entity) (string, error) {
	var b strings.Builder
	prev := 0
	for i, e := range entities {
		if e.Start < prev || e.End < e.Start || e.End > len(raw) {
			return "", fmt.Errorf("manifest entry %d (%s) has invalid span", i, e.Type)
		}
		b.WriteString(raw[prev:e.Start])
		b.WriteString(e.Token)
		prev = e.End
	}
	b.WriteString(raw[prev:])
	return b.String(), nil
}
