// Package filewatch converts HL7 files dropped into an input directory and
// writes the bundles to an output directory.
package filewatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/conversion"
	"github.com/fhirhub/go-fhirhub/internal/converter"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
)

// Converter is the part of conversion.Service the watcher needs.
type Converter interface {
	Convert(ctx context.Context, req conversion.Request) (converter.Result, conversion.Outcome)
}

// Config holds watcher settings.
type Config struct {
	InputDir   string
	OutputDir  string
	Extensions []string
	// Settle is how long a file must stay quiet before it is read.
	Settle time.Duration
	// Rescan is the interval of the full directory sweep backing up fsnotify.
	Rescan time.Duration
}

// DefaultConfig returns defaults for the given directories.
func DefaultConfig(inputDir, outputDir string) Config {
	return Config{
		InputDir:   inputDir,
		OutputDir:  outputDir,
		Extensions: []string{".hl7", ".txt"},
		Settle:     250 * time.Millisecond,
		Rescan:     30 * time.Second,
	}
}

// Watcher converts matching files once per modification time.
type Watcher struct {
	cfg     Config
	conv    Converter
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	processed map[string]time.Time
	pending   map[string]*time.Timer
	wg        sync.WaitGroup
}

// New creates a watcher and the input and output directories.
func New(cfg Config, conv Converter, m *metrics.Metrics, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InputDir == "" || cfg.OutputDir == "" {
		return nil, errors.New("input and output directories are required")
	}
	if len(cfg.Extensions) == 0 {
		return nil, errors.New("at least one extension is required")
	}
	for _, dir := range []string{cfg.InputDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Watcher{
		cfg:       cfg,
		conv:      conv,
		metrics:   m,
		logger:    logger,
		processed: make(map[string]time.Time),
		pending:   make(map[string]*time.Timer),
	}, nil
}

// Run sweeps the input directory, then converts files as they are written
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.InputDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.InputDir, err)
	}

	w.logger.Info("watching input directory",
		zap.String("input_dir", w.cfg.InputDir),
		zap.String("output_dir", w.cfg.OutputDir),
		zap.Strings("extensions", w.cfg.Extensions))

	w.Scan(ctx)

	var rescan <-chan time.Time
	if w.cfg.Rescan > 0 {
		ticker := time.NewTicker(w.cfg.Rescan)
		defer ticker.Stop()
		rescan = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			w.wg.Wait()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.schedule(ctx, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", zap.Error(err))
		case <-rescan:
			w.Scan(ctx)
		}
	}
}

// Scan converts every matching file whose modification time changed.
func (w *Watcher) Scan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.InputDir)
	if err != nil {
		w.logger.Error("failed to read input directory", zap.String("dir", w.cfg.InputDir), zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := w.ProcessFile(ctx, filepath.Join(w.cfg.InputDir, e.Name())); err != nil {
			w.logger.Error("failed to process file", zap.String("file", e.Name()), zap.Error(err))
		}
	}
}

// schedule debounces bursts of write events on one file.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !w.Matches(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.cfg.Settle)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.cfg.Settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		if _, err := w.ProcessFile(ctx, path); err != nil {
			w.logger.Error("failed to process file", zap.String("file", path), zap.Error(err))
		}
	})
	w.pending[path] = t
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

// Matches reports whether path has one of the configured extensions.
func (w *Watcher) Matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range w.cfg.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// OutputName is the bundle file name for an input file.
func OutputName(inputName string) string {
	return strings.TrimSuffix(inputName, filepath.Ext(inputName)) + ".json"
}

// ProcessFile converts path unless it was already converted at its current
// modification time. It reports whether a conversion ran.
func (w *Watcher) ProcessFile(ctx context.Context, path string) (bool, error) {
	if !w.Matches(path) {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	name := filepath.Base(path)
	if !w.claim(path, info.ModTime()) {
		return false, nil
	}

	// Another watcher on the same output directory may hold the file. The
	// lock file stays in place so every watcher locks the same inode.
	lock := flock.New(filepath.Join(w.cfg.OutputDir, name+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		w.release(path)
		return false, fmt.Errorf("lock %s: %w", name, err)
	}
	if !locked {
		w.release(path)
		return false, nil
	}
	defer lock.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		w.release(path)
		w.countFile(conversion.StatusError)
		return false, fmt.Errorf("read %s: %w", name, err)
	}

	outName := OutputName(name)
	res, out := w.conv.Convert(ctx, conversion.Request{
		Message:    string(raw),
		Source:     conversion.SourceFile,
		InputName:  name,
		OutputName: outName,
	})
	if !res.Success {
		w.countFile(conversion.StatusError)
		w.logger.Warn("file conversion failed",
			zap.String("file", name),
			zap.String("conversion_id", out.ID),
			zap.String("message", res.Message))
		return true, nil
	}

	if err := writeJSON(filepath.Join(w.cfg.OutputDir, outName), res.FHIRData); err != nil {
		w.release(path)
		w.countFile(conversion.StatusError)
		return true, err
	}

	w.countFile(conversion.StatusSuccess)
	w.logger.Info("file converted",
		zap.String("file", name),
		zap.String("output", outName),
		zap.Int("resources", out.ResourceCount),
		zap.String("conversion_id", out.ID))
	return true, nil
}

// claim records mtime for path and reports whether it was new.
func (w *Watcher) claim(path string, mtime time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.processed[path]; ok && last.Equal(mtime) {
		return false
	}
	w.processed[path] = mtime
	return true
}

// release forgets path so the next event retries it.
func (w *Watcher) release(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.processed, path)
}

func (w *Watcher) countFile(status conversion.Status) {
	if w.metrics != nil {
		w.metrics.FilesProcessed.WithLabelValues(string(status)).Inc()
	}
}

// writeJSON writes v through a temporary file so readers never see a
// partial bundle.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
