package rewrite

// Direction of a rewrite pass.
type Direction string

// Pass directions.
const (
	DirectionAnonymize   Direction = "anonymize"
	DirectionDeanonymize Direction = "deanonymize"
)

// Diagnostic records one skipped span or cluster title with enough context
// to diagnose the pass (set, index, position) without carrying plaintext.
type Diagnostic struct {
	Set    string `json:"set"`
	Index  int    `json:"index"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Reason string `json:"reason"`
}

// Report summarizes one rewrite pass. Per-span problems never abort a pass;
// they end up here.
type Report struct {
	Direction         Direction    `json:"direction"`
	NoOp              bool         `json:"noop"`
	SpansReplaced     int          `json:"spans_replaced"`
	SkippedInvalid    int          `json:"skipped_invalid"`
	SkippedOverlap    int          `json:"skipped_overlap"`
	SkippedResolution int          `json:"skipped_resolution"`
	Diagnostics       []Diagnostic `json:"diagnostics,omitempty"`
}

func (r *Report) addDiagnostic(set string, index, start, end int, reason string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Set: set, Index: index, Start: start, End: end, Reason: reason,
	})
}
