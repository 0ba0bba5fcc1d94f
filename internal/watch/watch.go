// Package watch pushes semantic model changes to the analysis engine.
//
// Editors and pipelines that manage the model file tend to save it with
// write+rename, which drops a watch held on the file itself. The watcher
// therefore watches the parent directory and filters events by name.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Invoker is the engine call surface the watcher needs.
type Invoker interface {
	Invoke(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Config configures a Watcher.
type Config struct {
	// Path is the model JSON file to watch.
	Path string

	// Debounce is how long the file must stay quiet before its content
	// is pushed. Zero or negative uses 500ms.
	Debounce time.Duration

	// PushTimeout bounds a single push. Zero leaves the bound to the
	// engine session's own invoke timeout.
	PushTimeout time.Duration
}

// Watcher watches one model file and pushes its content to the engine.
type Watcher struct {
	cfg     Config
	path    string
	base    string
	invoker Invoker
	log     *slog.Logger

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	pushes int
}

// New creates a watcher for cfg.Path. The parent directory must exist; the
// file itself may appear later.
func New(cfg Config, invoker Invoker, log *slog.Logger) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("watch: model path is empty")
	}
	if invoker == nil {
		return nil, errors.New("watch: invoker is nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", cfg.Path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		cfg:     cfg,
		path:    abs,
		base:    filepath.Base(abs),
		invoker: invoker,
		log:     log,
		fsw:     fsw,
	}, nil
}

// Run watches until ctx is done. If the model file exists when Run starts,
// its current content is pushed once before any events are handled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	if _, err := os.Stat(w.path); err == nil {
		w.push(ctx)
	}

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
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != w.base {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.cfg.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("model watch error", "error", err)

		case <-fire:
			timer = nil
			fire = nil
			w.push(ctx)
		}
	}
}

// Pushes reports how many pushes have been attempted.
func (w *Watcher) Pushes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pushes
}

// push reads the model file and sends it to the engine. Failures are logged
// and dropped: the next change will try again.
func (w *Watcher) push(ctx context.Context) {
	w.mu.Lock()
	w.pushes++
	w.mu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("model read failed", "path", w.path, "error", err)
		return
	}
	if !gjson.ValidBytes(data) {
		w.log.Warn("model file is not valid JSON, skipping push", "path", w.path)
		return
	}

	// The engine protocol is line oriented, so the payload must collapse
	// to a single line.
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		w.log.Warn("model compact failed", "path", w.path, "error", err)
		return
	}

	if w.cfg.PushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.PushTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	w.log.Info("pushing model update", "push", id, "bytes", buf.Len())
	if _, err := w.invoker.Invoke(ctx, "setModel", json.RawMessage(buf.Bytes())); err != nil {
		w.log.Warn("model push failed", "push", id, "error", err)
		return
	}
	w.log.Debug("model push acknowledged", "push", id)
}
