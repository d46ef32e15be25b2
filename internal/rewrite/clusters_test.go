package rewrite

import (
	"context"
	"testing"

	"github.com/unimib-datAI/dave-anonymizer/internal/models"
)

func TestRewriteClusterTitles_Anonymize(t *testing.T) {
	r := newTestRewriter(&codecResolver{})
	clusters := []models.Cluster{
		{ID: 0, Title: "Antonio Rossi", Type: "persona", Mentions: []models.ClusterMention{
			{ID: 1, Mention: "A. Rossi"},
			{ID: 2, Mention: "Rossi"},
		}},
		{ID: 1, Title: "Milano", Type: "luogo", Mentions: []models.ClusterMention{
			{ID: 3, Mention: "Milano"},
		}},
	}
	rep := &Report{Direction: DirectionAnonymize}

	titles := r.RewriteClusterTitles(context.Background(), "entities", clusters, DirectionAnonymize, rep)

	if len(titles) != 2 {
		t.Fatalf("titles: got %d, want 2", len(titles))
	}
	if titles[0] != "[[Antonio Rossi]]" || clusters[0].Title != "[[Antonio Rossi]]" {
		t.Errorf("cluster 0 title: map %q, struct %q", titles[0], clusters[0].Title)
	}
	m := clusters[0].Mentions[0]
	if m.OriginalKey != "[[A. Rossi]]" {
		t.Errorf("mention key: got %q", m.OriginalKey)
	}
	if m.Mention != "" {
		t.Errorf("mention plaintext not blanked: %q", m.Mention)
	}
}

func TestRewriteClusterTitles_Deanonymize(t *testing.T) {
	r := newTestRewriter(&codecResolver{})
	clusters := []models.Cluster{
		{ID: 0, Title: "[[Antonio Rossi]]", Mentions: []models.ClusterMention{
			{ID: 1, OriginalKey: "[[A. Rossi]]"},
		}},
	}
	rep := &Report{Direction: DirectionDeanonymize}

	titles := r.RewriteClusterTitles(context.Background(), "entities", clusters, DirectionDeanonymize, rep)

	if titles[0] != "Antonio Rossi" || clusters[0].Title != "Antonio Rossi" {
		t.Errorf("title: map %q, struct %q", titles[0], clusters[0].Title)
	}
	if clusters[0].Mentions[0].Mention != "A. Rossi" {
		t.Errorf("mention: got %q", clusters[0].Mentions[0].Mention)
	}
}

func TestRewriteClusterTitles_FailedTitleKeptOutOfMap(t *testing.T) {
	r := newTestRewriter(&codecResolver{encFail: map[string]bool{"Milano": true}})
	clusters := []models.Cluster{
		{ID: 0, Title: "Antonio Rossi"},
		{ID: 1, Title: "Milano"},
	}
	rep := &Report{Direction: DirectionAnonymize}

	titles := r.RewriteClusterTitles(context.Background(), "entities", clusters, DirectionAnonymize, rep)

	if _, ok := titles[1]; ok {
		t.Error("failed cluster present in title map")
	}
	if clusters[1].Title != "Milano" {
		t.Errorf("failed cluster title changed: %q", clusters[1].Title)
	}
	if rep.SkippedResolution != 1 {
		t.Errorf("skipped resolution: got %d, want 1", rep.SkippedResolution)
	}
	if len(rep.Diagnostics) != 1 {
		t.Fatalf("diagnostics: got %d, want 1", len(rep.Diagnostics))
	}
}

func TestRewriteMentionKeys_FailedMentionLeftAsIs(t *testing.T) {
	r := newTestRewriter(&codecResolver{encFail: map[string]bool{"Rossi": true}})
	c := &models.Cluster{ID: 0, Title: "Antonio Rossi", Mentions: []models.ClusterMention{
		{ID: 1, Mention: "A. Rossi"},
		{ID: 2, Mention: "Rossi"},
	}}
	rep := &Report{Direction: DirectionAnonymize}

	r.rewriteMentionKeys(context.Background(), "entities", c, DirectionAnonymize, rep)

	if c.Mentions[0].OriginalKey == "" || c.Mentions[0].Mention != "" {
		t.Errorf("first mention not rewritten: %+v", c.Mentions[0])
	}
	if c.Mentions[1].Mention != "Rossi" || c.Mentions[1].OriginalKey != "" {
		t.Errorf("failed mention changed: %+v", c.Mentions[1])
	}
	if rep.SkippedResolution != 1 {
		t.Errorf("skipped resolution: got %d, want 1", rep.SkippedResolution)
	}
}
