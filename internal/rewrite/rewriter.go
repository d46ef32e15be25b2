// Package rewrite implements the anonymize/de-anonymize passes over an
// annotated document: every span's text is substituted with its encrypted
// token (or decrypted original) while the offsets of all other annotations,
// across every annotation set, are kept consistent with the changing text.
//
// One pass is strictly sequential: spans are visited in ascending position
// order, globally across sets, and each substitution's offset delta is fully
// applied before the next span is read. Passes over different documents are
// independent and may run concurrently; the rewriter holds no per-document
// state and operates on a deep copy of its input.
package rewrite

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unimib-datAI/dave-anonymizer/internal/metrics"
	"github.com/unimib-datAI/dave-anonymizer/internal/models"
	"github.com/unimib-datAI/dave-anonymizer/internal/secrets"
	"github.com/unimib-datAI/dave-anonymizer/internal/span"
	"github.com/unimib-datAI/dave-anonymizer/pkg/utils"
)

// Document name markers appended by the passes.
const (
	anonymizedSuffix   = "_ANNOTATED"
	deanonymizedSuffix = " (de-anonymized)"
)

// Rewriter runs anonymize and de-anonymize passes. Construct one per
// service; it is safe for concurrent use across documents.
type Rewriter struct {
	resolver secrets.Resolver
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewRewriter creates a Rewriter. metrics may be nil.
func NewRewriter(resolver secrets.Resolver, logger *zap.Logger, m *metrics.Metrics) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{resolver: resolver, logger: logger, metrics: m}
}

// spanRef ties an annotation to its owning set for the global walk.
type spanRef struct {
	set string
	idx int
	ann *models.Annotation
}

// Anonymize returns a new document in which every resolvable span's text is
// replaced by its encrypted token, all other offsets translated to match.
// Clustered spans are substituted with their cluster's encrypted title; the
// span's own extracted text is always encrypted into OriginalKey first, so
// de-anonymization can restore the exact original text.
//
// Structurally empty documents (no text or no annotation sets) and already
// anonymized documents are returned unchanged. Per-span failures are
// reported, never raised.
func (r *Rewriter) Anonymize(ctx context.Context, doc *models.Document) (*models.Document, *Report) {
	rep := &Report{Direction: DirectionAnonymize}
	d := doc.Clone()
	if d == nil || d.Text == "" || len(d.AnnotationSets) == 0 || d.Features.Anonymized {
		rep.NoOp = true
		r.observePass(rep, 0)
		return d, rep
	}
	start := time.Now()

	titles := r.rewriteAllClusterTitles(ctx, d, DirectionAnonymize, rep)

	all, ordered := collectSpans(d)
	text := d.Text
	lastEnd := 0
	overlapped := make(map[*models.Annotation]struct{})
	for _, ref := range ordered {
		a := ref.ann
		if !span.Valid(a, len(text)) {
			rep.SkippedInvalid++
			r.skip(rep, ref, "invalid", metrics.SkipInvalid)
			continue
		}
		if _, ok := overlapped[a]; ok || a.Start < lastEnd {
			rep.SkippedOverlap++
			r.skip(rep, ref, "overlap", metrics.SkipOverlap)
			continue
		}

		key, err := r.resolver.Encrypt(ctx, span.Extract(text, a))
		if err != nil {
			r.recordResolution(rep, ref.set, ref.idx, a.Start, a.End, DirectionAnonymize)
			continue
		}
		a.OriginalKey = key

		replacement := key
		if title, ok := titles.lookup(ref.set, a.ID); ok {
			replacement = title
		}

		textLen := len(text)
		markOverlaps(all, a, textLen, overlapped)
		text = utils.Splice(text, a.Start, a.End, replacement)
		span.ApplyReplacement(all, a, len(replacement), textLen)
		a.Mention = replacement
		lastEnd = a.End
		rep.SpansReplaced++
		if r.metrics != nil {
			r.metrics.SpansReplacedTotal.WithLabelValues(string(DirectionAnonymize)).Inc()
		}
	}

	d.Text = text
	d.Features.Anonymized = true
	d.Name += anonymizedSuffix
	sortSets(d)
	r.observePass(rep, time.Since(start))
	r.logger.Info("anonymize pass complete",
		zap.String("document", d.ID),
		zap.Int("replaced", rep.SpansReplaced),
		zap.Int("skipped", rep.SkippedInvalid+rep.SkippedOverlap+rep.SkippedResolution))
	return d, rep
}

// Deanonymize returns a new document with every span's original text
// restored from its OriginalKey, offsets translated to match. A span whose
// key is missing or fails to decrypt keeps its ciphertext in the text and
// shifts nothing.
func (r *Rewriter) Deanonymize(ctx context.Context, doc *models.Document) (*models.Document, *Report) {
	rep := &Report{Direction: DirectionDeanonymize}
	d := doc.Clone()
	if d == nil || d.Text == "" || len(d.AnnotationSets) == 0 {
		rep.NoOp = true
		r.observePass(rep, 0)
		return d, rep
	}
	start := time.Now()

	r.rewriteAllClusterTitles(ctx, d, DirectionDeanonymize, rep)

	all, ordered := collectSpans(d)
	text := d.Text
	lastEnd := 0
	overlapped := make(map[*models.Annotation]struct{})
	for _, ref := range ordered {
		a := ref.ann
		if !span.Valid(a, len(text)) {
			rep.SkippedInvalid++
			r.skip(rep, ref, "invalid", metrics.SkipInvalid)
			continue
		}
		if _, ok := overlapped[a]; ok || a.Start < lastEnd {
			rep.SkippedOverlap++
			r.skip(rep, ref, "overlap", metrics.SkipOverlap)
			continue
		}
		if a.OriginalKey == "" {
			r.recordResolution(rep, ref.set, ref.idx, a.Start, a.End, DirectionDeanonymize)
			continue
		}

		plain, err := r.resolver.Decrypt(ctx, a.OriginalKey)
		if err != nil {
			r.recordResolution(rep, ref.set, ref.idx, a.Start, a.End, DirectionDeanonymize)
			continue
		}

		textLen := len(text)
		markOverlaps(all, a, textLen, overlapped)
		text = utils.Splice(text, a.Start, a.End, plain)
		span.ApplyReplacement(all, a, len(plain), textLen)
		a.Mention = plain
		lastEnd = a.End
		rep.SpansReplaced++
		if r.metrics != nil {
			r.metrics.SpansReplacedTotal.WithLabelValues(string(DirectionDeanonymize)).Inc()
		}
	}

	d.Text = text
	d.Features.Anonymized = false
	d.Name = strings.TrimSuffix(d.Name, anonymizedSuffix) + deanonymizedSuffix
	sortSets(d)
	r.observePass(rep, time.Since(start))
	r.logger.Info("deanonymize pass complete",
		zap.String("document", d.ID),
		zap.Int("replaced", rep.SpansReplaced),
		zap.Int("skipped", rep.SkippedInvalid+rep.SkippedOverlap+rep.SkippedResolution))
	return d, rep
}

// titleIndex maps (set, annotation id) to the cluster's rewritten title.
type titleIndex struct {
	bySet map[string]map[int]string // set -> annotation id -> title
}

func (t titleIndex) lookup(set string, annID int) (string, bool) {
	owners, ok := t.bySet[set]
	if !ok {
		return "", false
	}
	title, ok := owners[annID]
	return title, ok
}

// rewriteAllClusterTitles runs the cluster pre-pass over every annotation
// set and indexes the rewritten titles by member annotation id. A span
// belongs to the cluster (in its own set) listing its id as a mention.
func (r *Rewriter) rewriteAllClusterTitles(ctx context.Context, d *models.Document, dir Direction, rep *Report) titleIndex {
	idx := titleIndex{bySet: make(map[string]map[int]string)}
	for setName, clusters := range d.Features.Clusters {
		titles := r.RewriteClusterTitles(ctx, setName, clusters, dir, rep)
		owners := make(map[int]string)
		for i, c := range clusters {
			title, ok := titles[i]
			if !ok {
				continue
			}
			for _, m := range c.Mentions {
				owners[m.ID] = title
			}
		}
		idx.bySet[setName] = owners
	}
	return idx
}

// collectSpans flattens every annotation in the document and returns both
// the flat slice (the shift target for the offset translator) and the
// deterministic processing order: ascending start, ties by end then set
// name. Processing out of position order is exactly the defect class this
// engine exists to eliminate.
func collectSpans(d *models.Document) ([]*models.Annotation, []spanRef) {
	var all []*models.Annotation
	var ordered []spanRef

	setNames := make([]string, 0, len(d.AnnotationSets))
	for name := range d.AnnotationSets {
		setNames = append(setNames, name)
	}
	sort.Strings(setNames)

	for _, name := range setNames {
		set := d.AnnotationSets[name]
		if set == nil {
			continue
		}
		for i, a := range set.Annotations {
			if a == nil {
				continue
			}
			all = append(all, a)
			ordered = append(ordered, spanRef{set: name, idx: i, ann: a})
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].ann, ordered[j].ann
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return ordered[i].set < ordered[j].set
	})
	return all, ordered
}

// markOverlaps records every span starting strictly inside the region about
// to be replaced. Overlap is judged against the region's original extent:
// such spans are never shifted, so their stale offsets must not be
// substituted when their turn comes, even after a shrinking replacement
// moves the region's end to their left.
func markOverlaps(all []*models.Annotation, replaced *models.Annotation, textLen int, overlapped map[*models.Annotation]struct{}) {
	for _, s := range all {
		if s == replaced || !span.Valid(s, textLen) {
			continue
		}
		if span.Overlaps(s, replaced.Start, replaced.End) {
			overlapped[s] = struct{}{}
		}
	}
}

// sortSets restores the per-set ordering invariant: annotations sorted by
// start. The engine maintains this; it is never assumed of the input.
func sortSets(d *models.Document) {
	for _, set := range d.AnnotationSets {
		if set == nil {
			continue
		}
		sort.SliceStable(set.Annotations, func(i, j int) bool {
			return set.Annotations[i].Start < set.Annotations[j].Start
		})
	}
}

func (r *Rewriter) skip(rep *Report, ref spanRef, reason, metricReason string) {
	rep.addDiagnostic(ref.set, ref.idx, ref.ann.Start, ref.ann.End, reason)
	r.logger.Debug("span skipped",
		zap.String("set", ref.set),
		zap.Int("index", ref.idx),
		zap.Int("start", ref.ann.Start),
		zap.Int("end", ref.ann.End),
		zap.String("reason", reason))
	if r.metrics != nil {
		r.metrics.SpansSkippedTotal.WithLabelValues(metricReason).Inc()
	}
}

func (r *Rewriter) recordResolution(rep *Report, set string, index, start, end int, dir Direction) {
	rep.SkippedResolution++
	rep.addDiagnostic(set, index, start, end, "resolution")
	r.logger.Warn("secret resolution failed, span left unmodified",
		zap.String("set", set),
		zap.Int("index", index),
		zap.Int("start", start),
		zap.Int("end", end),
		zap.String("direction", string(dir)))
	if r.metrics != nil {
		op := "encrypt"
		if dir == DirectionDeanonymize {
			op = "decrypt"
		}
		r.metrics.SecretFailures.WithLabelValues(op).Inc()
		r.metrics.SpansSkippedTotal.WithLabelValues(metrics.SkipResolution).Inc()
	}
}

func (r *Rewriter) observePass(rep *Report, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	outcome := "ok"
	if rep.NoOp {
		outcome = "noop"
	}
	r.metrics.PassesTotal.WithLabelValues(string(rep.Direction), outcome).Inc()
	if !rep.NoOp {
		r.metrics.PassDuration.WithLabelValues(string(rep.Direction)).Observe(elapsed.Seconds())
	}
}
