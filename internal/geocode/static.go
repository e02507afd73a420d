package geocode

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/types"
)

//go:embed gazetteer.yaml
var builtinGazetteer []byte

type gazetteerFile struct {
	Places []place `yaml:"places"`
}

type place struct {
	Name    string   `yaml:"name"`
	Lat     float64  `yaml:"lat"`
	Lng     float64  `yaml:"lng"`
	Aliases []string `yaml:"aliases"`
}

// Static is an in-memory gazetteer: a built-in table of Ukrainian
// settlements optionally extended by a YAML file.
type Static struct {
	mu      sync.RWMutex
	builtin map[string]Result
	index   map[string]Result
}

func NewStatic() (*Static, error) {
	builtin, err := parseGazetteer(builtinGazetteer)
	if err != nil {
		return nil, fmt.Errorf("builtin gazetteer: %w", err)
	}
	return &Static{builtin: builtin, index: builtin}, nil
}

func (s *Static) Geocode(ctx context.Context, name string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.RLock()
	res, ok := s.index[normalize(name)]
	s.mu.RUnlock()
	if !ok {
		return Result{}, ErrNotFound
	}
	return res, nil
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Load replaces the file-provided entries with those in path. File entries
// take precedence over built-in ones with the same key.
func (s *Static) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read gazetteer: %w", err)
	}
	extra, err := parseGazetteer(data)
	if err != nil {
		return fmt.Errorf("parse gazetteer %s: %w", path, err)
	}
	index := make(map[string]Result, len(s.builtin)+len(extra))
	for k, v := range s.builtin {
		index[k] = v
	}
	for k, v := range extra {
		index[k] = v
	}
	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	return nil
}

// Watch reloads path whenever it changes until ctx is done. A reload that
// fails keeps the previous table.
func (s *Static) Watch(ctx context.Context, path string, log *logging.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so editors that replace the file are seen.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}
	go func() {
		defer w.Close()
		target := filepath.Clean(path)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Load(path); err != nil {
					log.Warnw("gazetteer reload failed", "path", path, "err", err)
					continue
				}
				log.Infow("gazetteer reloaded", "path", path, "entries", s.Len())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnw("gazetteer watch error", "err", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func parseGazetteer(data []byte) (map[string]Result, error) {
	var f gazetteerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	index := make(map[string]Result)
	for _, p := range f.Places {
		if p.Name == "" {
			return nil, fmt.Errorf("gazetteer entry without a name")
		}
		res := Result{Name: p.Name, Point: types.Point{Lat: p.Lat, Lng: p.Lng}}
		index[normalize(p.Name)] = res
		for _, a := range p.Aliases {
			index[normalize(a)] = res
		}
	}
	return index, nil
}
