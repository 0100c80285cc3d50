package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Library holds the use cases loaded from a directory of markdown files.
// A failed reload leaves the previous set in place.
type Library struct {
	dir    string
	logger zerolog.Logger

	mu  sync.RWMutex
	set Set
}

// NewLibrary loads every .md file under dir.
func NewLibrary(dir string, logger zerolog.Logger) (*Library, error) {
	l := &Library{dir: dir, logger: logger}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Dir returns the directory the library loads from.
func (l *Library) Dir() string {
	return l.dir
}

// Set returns the current use cases.
func (l *Library) Set() Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set
}

// Reload re-reads the directory. Duplicate ids across files are an error.
func (l *Library) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read use case dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && isUseCaseFile(e.Name()) {
			files = append(files, filepath.Join(l.dir, e.Name()))
		}
	}
	sort.Strings(files)

	var set Set
	origin := map[string]string{}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		parsed, err := Parse(string(data))
		if err != nil {
			return fmt.Errorf("parse %s: %w", filepath.Base(file), err)
		}
		for _, u := range parsed {
			if prev, dup := origin[u.ID]; dup {
				return fmt.Errorf("use case %q defined in both %s and %s", u.ID, filepath.Base(prev), filepath.Base(file))
			}
			origin[u.ID] = file
		}
		set = append(set, parsed...)
	}

	l.mu.Lock()
	l.set = set
	l.mu.Unlock()

	l.logger.Info().Int("use_cases", len(set)).Int("files", len(files)).Msg("Use cases loaded")
	return nil
}
