// Package prompts loads and renders the LLM prompt templates. Builtin
// templates ship embedded in the binary; files in an optional prompts
// directory override them by name, and a filesystem watcher hot-swaps the
// parsed set when those files change.
package prompts

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
)

//go:embed templates/*.tmpl
var builtinFS embed.FS

// Template names rendered by the features.
const (
	AutoReplySystem = "autoreply_system"
	TrackingExtract = "tracking_extract"
	TrackingRefine  = "tracking_refine"
)

// AutoReplyData fills the autoreply_system template.
type AutoReplyData struct {
	BotName  string
	Language string
}

// TrackingData fills the tracking_extract and tracking_refine templates.
type TrackingData struct {
	GroupName string
	Language  string
	Timezone  string
}

// Registry holds the parsed template set. Reload swaps in a freshly parsed
// set; the previous set stays live when parsing fails.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu   sync.RWMutex
	tmpl *template.Template

	watcher *fsnotify.Watcher
}

// New parses the builtin templates and overlays any *.tmpl files found in
// dir. An empty or missing dir means builtin templates only.
func New(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{dir: dir, logger: logger.With("component", "prompts")}
	tmpl, err := r.parse()
	if err != nil {
		return nil, err
	}
	r.tmpl = tmpl
	return r, nil
}

// parse builds a fresh set: builtins first, disk files second so a
// same-named file wins.
func (r *Registry) parse() (*template.Template, error) {
	tmpl := template.New("prompts")

	entries, err := fs.ReadDir(builtinFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("builtin templates: %w", err)
	}
	for _, e := range entries {
		raw, err := fs.ReadFile(builtinFS, "templates/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("builtin template %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".tmpl")
		if _, err := tmpl.New(name).Parse(string(raw)); err != nil {
			return nil, fmt.Errorf("parse builtin %s: %w", e.Name(), err)
		}
	}

	if r.dir == "" {
		return tmpl, nil
	}
	disk, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return tmpl, nil
		}
		return nil, fmt.Errorf("read prompts dir: %w", err)
	}
	for _, e := range disk {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmpl") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".tmpl")
		if _, err := tmpl.New(name).Parse(string(raw)); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
	}
	return tmpl, nil
}

// Render executes the named template with data.
func (r *Registry) Render(name string, data any) (string, error) {
	r.mu.RLock()
	tmpl := r.tmpl
	r.mu.RUnlock()

	var sb strings.Builder
	if err := tmpl.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return sb.String(), nil
}

// Reload re-parses the template set from the builtins and the directory.
func (r *Registry) Reload() error {
	tmpl, err := r.parse()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.tmpl = tmpl
	r.mu.Unlock()
	return nil
}

// Watch reloads the registry whenever a .tmpl file in the directory changes.
// It is a no-op when no directory is configured or the directory does not
// exist yet. The watch stops when ctx is done or Close is called.
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		return nil
	}
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		r.logger.Debug("prompts.watch_skipped", "dir", r.dir)
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompts watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}
	r.watcher = watcher
	go r.watchLoop(ctx)
	r.logger.Info("prompts.watching", "dir", r.dir)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".tmpl") {
				continue
			}
			if err := r.Reload(); err != nil {
				// Keep serving the previous set.
				r.logger.Error("prompts.reload", "file", filepath.Base(ev.Name), "error", err)
				continue
			}
			r.logger.Info("prompts.reloaded", "file", filepath.Base(ev.Name))
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("prompts.watch_error", "error", err)
		}
	}
}

// Close stops the watcher if one is running.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
