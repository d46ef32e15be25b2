// Package models defines the data structures for annotated documents:
// documents, annotation sets, annotations (spans) and entity clusters.
package models

import "time"

// Document is a stored document together with its annotation layers.
// Offsets in every annotation refer to Text.
type Document struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name"`
	Text           string                    `json:"text"`
	AnnotationSets map[string]*AnnotationSet `json:"annotation_sets"`
	Features       DocumentFeatures          `json:"features"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// AnnotationSet is one named layer of annotations over the document text
// (e.g. "entities", "entities_consolidated", "Sections").
type AnnotationSet struct {
	Name        string        `json:"name"`
	Annotations []*Annotation `json:"annotations"`
}

// Annotation is a labeled span of document text. Start and End are offsets
// into Document.Text; End is exclusive. Mention caches the plaintext
// rendering of the span. OriginalKey holds the opaque ciphertext reference
// and is the single authoritative source for recovering the plaintext; it
// is never re-derived from Mention or from the surrounding text.
type Annotation struct {
	ID          int    `json:"id"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Type        string `json:"type"`
	Mention     string `json:"mention,omitempty"`
	OriginalKey string `json:"originalKey,omitempty"`
}

// DocumentFeatures carries document-level flags and the per-set cluster
// groupings produced by entity consolidation.
type DocumentFeatures struct {
	Anonymized bool                 `json:"anonymized"`
	Clusters   map[string][]Cluster `json:"clusters,omitempty"`
}

// Cluster groups annotations believed to refer to the same real-world
// entity. Title is the shared display title; once anonymized it is the
// replacement text substituted into the document for every member span.
type Cluster struct {
	ID       int              `json:"id"`
	Title    string           `json:"title"`
	Type     string           `json:"type,omitempty"`
	Mentions []ClusterMention `json:"mentions"`
}

// ClusterMention references a member annotation by id. Mention is the
// plaintext of that span; OriginalKey its ciphertext reference.
type ClusterMention struct {
	ID          int    `json:"id"`
	Mention     string `json:"mention,omitempty"`
	OriginalKey string `json:"originalKey,omitempty"`
}

// DocumentInput is the payload for creating or updating a document.
type DocumentInput struct {
	ID             string                    `json:"id,omitempty"`
	Name           string                    `json:"name,omitempty"`
	Text           string                    `json:"text"`
	AnnotationSets map[string]*AnnotationSet `json:"annotation_sets,omitempty"`
	Features       *DocumentFeatures         `json:"features,omitempty"`
}

// Clone returns a deep copy of the document. The rewrite passes operate on
// a clone so callers never observe a half-mutated document through aliasing.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.AnnotationSets != nil {
		out.AnnotationSets = make(map[string]*AnnotationSet, len(d.AnnotationSets))
		for name, set := range d.AnnotationSets {
			out.AnnotationSets[name] = set.Clone()
		}
	}
	out.Features = d.Features.Clone()
	return &out
}

// Clone returns a deep copy of the annotation set.
func (s *AnnotationSet) Clone() *AnnotationSet {
	if s == nil {
		return nil
	}
	out := &AnnotationSet{Name: s.Name}
	if s.Annotations != nil {
		out.Annotations = make([]*Annotation, len(s.Annotations))
		for i, a := range s.Annotations {
			c := *a
			out.Annotations[i] = &c
		}
	}
	return out
}

// Clone returns a deep copy of the features.
func (f DocumentFeatures) Clone() DocumentFeatures {
	out := f
	if f.Clusters != nil {
		out.Clusters = make(map[string][]Cluster, len(f.Clusters))
		for name, clusters := range f.Clusters {
			cs := make([]Cluster, len(clusters))
			for i, c := range clusters {
				cs[i] = c
				cs[i].Mentions = append([]ClusterMention(nil), c.Mentions...)
			}
			out.Clusters[name] = cs
		}
	}
	return out
}
