// Package span implements the span model and the offset translator: the
// bookkeeping that keeps every annotation's [start,end) range consistent
// while text substitutions shrink or grow the document.
//
// One convention holds everywhere: end is exclusive. There is exactly one
// translator; replacements shift spans globally across all annotation sets.
package span

import "github.com/unimib-datAI/dave-anonymizer/internal/models"

// Valid reports whether a is a well-formed span for a text of textLen bytes:
// start >= 0, end > start (exclusive end), end <= textLen. Consumers skip
// invalid spans; they are never an error.
func Valid(a *models.Annotation, textLen int) bool {
	if a == nil {
		return false
	}
	return a.Start >= 0 && a.End > a.Start && a.End <= textLen
}

// Extract returns the text covered by the span, or "" when the span is
// invalid. Used for diagnostics and as the encryption source during
// anonymization, never as a substitute for OriginalKey when decrypting.
func Extract(text string, a *models.Annotation) string {
	if !Valid(a, len(text)) {
		return ""
	}
	return text[a.Start:a.End]
}

// Overlaps reports whether a starts strictly inside the open interval
// (start, end) of an already-replaced region. Such spans indicate upstream
// annotation error and are left untouched rather than corrupted.
func Overlaps(a *models.Annotation, start, end int) bool {
	return a.Start > start && a.Start < end
}

// ApplyReplacement renumbers spans after the text at
// [replaced.Start, replaced.End) was substituted with newLength bytes.
//
// The replaced span itself gets its new extent. Every other valid span
// positioned at or after the original end of the replaced region is shifted
// by delta = newLength - originalLength; spans before the region keep their
// offsets, and spans overlapping the region are skipped unmodified.
//
// spans must contain the annotations of every set in the document:
// shifting only the set currently being processed corrupts all others.
// textLen is the length of the text before the substitution. Returns the
// number of spans shifted.
func ApplyReplacement(spans []*models.Annotation, replaced *models.Annotation, newLength, textLen int) int {
	origStart := replaced.Start
	origEnd := replaced.End
	delta := newLength - (origEnd - origStart)

	replaced.End = origStart + newLength

	if delta == 0 {
		return 0
	}
	shifted := 0
	for _, s := range spans {
		if s == replaced || !Valid(s, textLen) {
			continue
		}
		if Overlaps(s, origStart, origEnd) {
			continue
		}
		if s.Start >= origEnd {
			s.Start += delta
			s.End += delta
			shifted++
		}
	}
	return shifted
}
