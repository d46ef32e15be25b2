package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unimib-datAI/dave-anonymizer/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "documents.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testDocument(id string) *models.Document {
	return &models.Document{
		ID:   id,
		Name: "sentenza-" + id,
		Text: "Mario Rossi ha citato in giudizio",
		AnnotationSets: map[string]*models.AnnotationSet{
			"entities": {
				Name: "entities",
				Annotations: []*models.Annotation{
					{ID: 1, Start: 0, End: 11, Type: "persona", OriginalKey: "vault:abc"},
				},
			},
		},
		Features: models.DocumentFeatures{
			Anonymized: true,
			Clusters: map[string][]models.Cluster{
				"entities": {{ID: 0, Title: "vault:title", Type: "persona", Mentions: []models.ClusterMention{
					{ID: 1, OriginalKey: "vault:abc"},
				}}},
			},
		},
	}
}

func TestSQLiteStorage_CreateAndGet(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := testDocument("doc-1")
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != doc.Text || got.Name != doc.Name {
		t.Errorf("document fields: got %q/%q", got.Name, got.Text)
	}
	set := got.AnnotationSets["entities"]
	if set == nil || len(set.Annotations) != 1 {
		t.Fatalf("annotation set not preserved: %+v", got.AnnotationSets)
	}
	a := set.Annotations[0]
	if a.Start != 0 || a.End != 11 || a.OriginalKey != "vault:abc" {
		t.Errorf("annotation not preserved: %+v", a)
	}
	if !got.Features.Anonymized {
		t.Error("anonymized flag lost")
	}
	if len(got.Features.Clusters["entities"]) != 1 {
		t.Errorf("clusters not preserved: %+v", got.Features.Clusters)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestSQLiteStorage_GetMissing(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.GetDocument(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error for missing document")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error: %v", err)
	}
}

func TestSQLiteStorage_Update(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := testDocument("doc-1")
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}

	doc.Text = "vault:k1 ha citato in giudizio"
	doc.AnnotationSets["entities"].Annotations[0].End = 8
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != doc.Text {
		t.Errorf("text not updated: %q", got.Text)
	}
	if got.AnnotationSets["entities"].Annotations[0].End != 8 {
		t.Errorf("annotation not updated: %+v", got.AnnotationSets["entities"].Annotations[0])
	}
}

func TestSQLiteStorage_UpdateMissing(t *testing.T) {
	store := newTestStorage(t)
	err := store.UpdateDocument(context.Background(), testDocument("ghost"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSQLiteStorage_Delete(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, testDocument("doc-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetDocument(ctx, "doc-1"); err == nil {
		t.Error("document still present after delete")
	}
}

func TestSQLiteStorage_ListAndCount(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		doc := testDocument(fmt.Sprintf("doc-%d", i))
		if err := store.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at for ordering
	}

	total, err := store.CountDocuments(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 5 {
		t.Errorf("count: got %d, want 5", total)
	}

	docs, err := store.ListDocuments(ctx, 0, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("page size: got %d, want 3", len(docs))
	}
	// Newest first.
	if docs[0].ID != "doc-4" {
		t.Errorf("first document: got %s, want doc-4", docs[0].ID)
	}

	rest, err := store.ListDocuments(ctx, 3, 3)
	if err != nil {
		t.Fatalf("list offset: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("second page: got %d, want 2", len(rest))
	}
}
