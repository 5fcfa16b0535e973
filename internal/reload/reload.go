// Package reload refreshes the stored configuration document from disk.
// A reload either swaps in a fully valid document or leaves the previous
// one in place.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eugenenazirov/hparams/internal/hparams"
	"github.com/eugenenazirov/hparams/internal/metrics"
	"github.com/eugenenazirov/hparams/internal/storage"
)

const defaultDebounce = 500 * time.Millisecond

// ValidationError reports a document that loaded but broke the schema.
type ValidationError struct {
	Path       string
	Violations []error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %d schema violation(s), first: %v", e.Path, len(e.Violations), e.Violations[0])
}

func (e *ValidationError) Unwrap() []error {
	return e.Violations
}

// Reloader loads the document at a fixed path into a store.
type Reloader struct {
	path     string
	schema   hparams.Schema
	store    storage.Storage
	logger   *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithDebounce sets how long the watcher waits for file events to settle.
func WithDebounce(d time.Duration) Option {
	return func(r *Reloader) {
		r.debounce = d
	}
}

// New creates a Reloader for path.
func New(path string, schema hparams.Schema, store storage.Storage, logger *zap.Logger, opts ...Option) *Reloader {
	r := &Reloader{
		path:     path,
		schema:   schema,
		store:    store,
		logger:   logger.With(zap.String("component", "reload")),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the watched document path.
func (r *Reloader) Path() string { return r.path }

// Reload loads and validates the document, then stores it. On any error the
// stored document is left unchanged.
func (r *Reloader) Reload(_ context.Context) error {
	doc, err := hparams.Load(r.path)
	if err != nil {
		metrics.ObserveLoad(err)
		r.logger.Error("load failed", zap.String("path", r.path), zap.Error(err))
		return fmt.Errorf("load %s: %w", r.path, err)
	}

	if violations := doc.Validate(r.schema); len(violations) > 0 {
		verr := &ValidationError{Path: r.path, Violations: violations}
		metrics.ObserveLoad(verr)
		metrics.ObserveViolations(violations)
		r.logger.Error("document failed validation",
			zap.String("path", r.path),
			zap.Int("violations", len(violations)),
			zap.Errors("errors", violations),
		)
		return verr
	}

	if err := r.store.Replace(doc); err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	metrics.ObserveLoad(nil)
	r.logger.Info("document loaded", zap.String("path", r.path), zap.Int("entries", doc.Len()))
	return nil
}

// Watch reloads the document whenever its file changes, until ctx is
// cancelled or Stop is called. The parent directory is watched so that
// editors replacing the file by rename are still observed.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", r.path, err)
	}

	r.mu.Lock()
	if r.watcher != nil {
		r.mu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("watcher already running for %s", r.path)
	}
	r.watcher = watcher
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("watching document", zap.String("path", r.path))
	go r.loop(ctx, watcher, r.done)
	return nil
}

// Stop stops a running watcher and waits for its loop to exit.
func (r *Reloader) Stop() {
	r.mu.Lock()
	watcher, done := r.watcher, r.done
	r.watcher, r.done = nil, nil
	r.mu.Unlock()

	if watcher == nil {
		return
	}
	_ = watcher.Close()
	<-done
}

func (r *Reloader) loop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	target := filepath.Clean(r.path)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			r.logger.Debug("document changed", zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Reset(r.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := r.Reload(ctx); err != nil {
				r.logger.Warn("automatic reload failed, keeping previous document", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("watcher error", zap.Error(err))
		}
	}
}
