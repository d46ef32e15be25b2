// Package ingest watches drop directories for document JSON files and loads
// them into storage, optionally anonymizing each document on arrival. It is
// the service-side replacement for the platform's bulk-upload scripts.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unimib-datAI/dave-anonymizer/internal/models"
	"github.com/unimib-datAI/dave-anonymizer/internal/rewrite"
	"github.com/unimib-datAI/dave-anonymizer/internal/storage"
)

const defaultDebounce = 400 * time.Millisecond

// Ingestor watches drop directories and stores each dropped document.
type Ingestor struct {
	dirs          []string
	store         storage.Storage
	rewriter      *rewrite.Rewriter
	autoAnonymize bool
	logger        *zap.Logger
	debounce      time.Duration

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	debounceMap map[string]*time.Timer
	started     bool
	done        chan struct{}
	stopOnce    sync.Once
}

// NewIngestor creates an ingestor over the given directories. rewriter is
// only used when autoAnonymize is set.
func NewIngestor(dirs []string, store storage.Storage, rewriter *rewrite.Rewriter, autoAnonymize bool, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		dirs:          dirs,
		store:         store,
		rewriter:      rewriter,
		autoAnonymize: autoAnonymize,
		logger:        logger,
		debounce:      defaultDebounce,
		debounceMap:   make(map[string]*time.Timer),
		done:          make(chan struct{}),
	}
}

// Start begins watching. It returns immediately; events are handled until
// ctx is cancelled or Stop is called. Files already present in the drop
// directories are ingested on startup.
func (in *Ingestor) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		in.mu.Unlock()
		return err
	}
	for _, dir := range in.dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			in.mu.Unlock()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	in.watcher = watcher
	in.started = true
	in.mu.Unlock()

	for _, dir := range in.dirs {
		in.syncDirectory(ctx, dir)
	}
	go in.run(ctx)
	return nil
}

// Stop stops watching. Safe to call more than once.
func (in *Ingestor) Stop() {
	in.stopOnce.Do(func() {
		close(in.done)
		in.mu.Lock()
		if in.watcher != nil {
			_ = in.watcher.Close()
		}
		for _, t := range in.debounceMap {
			t.Stop()
		}
		in.mu.Unlock()
	})
}

func (in *Ingestor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			in.handleEvent(ctx, ev)
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				in.logger.Debug("ingest watcher error", zap.Error(err))
			}
		}
	}
}

func (in *Ingestor) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if !isDocumentFile(ev.Name) {
		return
	}
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		in.debounceIngest(ctx, ev.Name)
	case ev.Op.Has(fsnotify.Remove):
		in.cancelDebounce(ev.Name)
	}
}

// syncDirectory ingests files already sitting in dir when the watcher starts.
func (in *Ingestor) syncDirectory(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		in.logger.Warn("ingest sync failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isDocumentFile(e.Name()) {
			continue
		}
		if err := in.IngestFile(ctx, filepath.Join(dir, e.Name())); err != nil {
			in.logger.Warn("ingest file failed", zap.String("path", e.Name()), zap.Error(err))
		}
	}
}

func (in *Ingestor) debounceIngest(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.debounceMap[path]; ok {
		t.Stop()
	}
	in.debounceMap[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.debounceMap, path)
		in.mu.Unlock()
		select {
		case <-in.done:
			// Stop won the race; the store may already be closed.
			return
		default:
		}
		if err := in.IngestFile(ctx, path); err != nil {
			in.logger.Warn("ingest file failed", zap.String("path", path), zap.Error(err))
		}
	})
}

func (in *Ingestor) cancelDebounce(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.debounceMap[path]; ok {
		t.Stop()
		delete(in.debounceMap, path)
	}
}

// IngestFile parses one document JSON file and stores it. An existing
// document with the same id is updated, not duplicated. When auto-anonymize
// is on, the stored document is the anonymized form.
func (in *Ingestor) IngestFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var input models.DocumentInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	doc := &models.Document{
		ID:             input.ID,
		Name:           input.Name,
		Text:           input.Text,
		AnnotationSets: input.AnnotationSets,
	}
	if input.Features != nil {
		doc.Features = *input.Features
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if in.autoAnonymize && in.rewriter != nil {
		out, report := in.rewriter.Anonymize(ctx, doc)
		in.logger.Info("auto-anonymized on ingest",
			zap.String("document", doc.ID),
			zap.Int("replaced", report.SpansReplaced),
			zap.Int("skipped_resolution", report.SkippedResolution))
		doc = out
	}

	if _, err := in.store.GetDocument(ctx, doc.ID); err == nil {
		if err := in.store.UpdateDocument(ctx, doc); err != nil {
			return fmt.Errorf("update %s: %w", doc.ID, err)
		}
	} else if err := in.store.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("store %s: %w", doc.ID, err)
	}
	in.logger.Info("document ingested", zap.String("document", doc.ID), zap.String("path", filepath.Base(path)))
	return nil
}

func isDocumentFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
