// Package config resolves, loads and hot-reloads the vendor configuration.
//
// A Store always holds a complete immutable *model.Config. Reloads build a
// new document and swap the pointer, so a reader sees either the old or the
// new configuration and never a mix of both. A failed reload keeps the
// previous snapshot live.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driverpack/driverpack/internal/model"
)

const defaultSettleDelay = 500 * time.Millisecond

type Store struct {
	path    string
	current atomic.Pointer[model.Config]
	modTime atomic.Int64 // unix nanos of the last loaded file

	settle time.Duration

	errMx   sync.Mutex
	lastErr error

	watchMx sync.Mutex
	watch   *watch
}

type Option func(*Store)

// WithSettleDelay sets how long a reload waits after a change notification
// before reading the file.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.settle = d
		}
	}
}

// Resolve returns the first candidate which is an existing regular file.
func Resolve(candidates ...string) (string, error) {
	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no configuration file found in %s", model.ErrConfig, strings.Join(candidates, ", "))
}

// Open resolves the configuration path from candidates and loads it.
func Open(candidates []string, opts ...Option) (*Store, error) {
	path, err := Resolve(candidates...)
	if err != nil {
		return nil, err
	}
	return New(path, opts...)
}

// New loads configuration from path.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		settle: defaultSettleDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the resolved configuration file.
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the backing file and replaces the live snapshot.
// On error the previous snapshot stays in place.
func (s *Store) Load() error {
	cfg, modTime, err := readConfig(s.path)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.current.Store(cfg)
	s.modTime.Store(modTime.UnixNano())
	s.setErr(nil)
	return nil
}

// Snapshot returns the live configuration. Callers must not modify it.
func (s *Store) Snapshot() *model.Config {
	return s.current.Load()
}

// Profile looks the vendor up in the live snapshot.
func (s *Store) Profile(v model.Vendor) (model.Profile, error) {
	return s.Snapshot().Profile(v)
}

// Get looks a single field up in the live snapshot.
func (s *Store) Get(v model.Vendor, f model.Field) (string, error) {
	return s.Snapshot().Get(v, f)
}

// LastError returns the error of the most recent load, nil if it succeeded.
func (s *Store) LastError() error {
	s.errMx.Lock()
	defer s.errMx.Unlock()
	return s.lastErr
}

func (s *Store) setErr(err error) {
	s.errMx.Lock()
	s.lastErr = err
	s.errMx.Unlock()
}

func readConfig(path string) (*model.Config, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, fmt.Errorf("%w: %s does not exist", model.ErrConfig, path)
		}
		return nil, time.Time{}, fmt.Errorf("%w: opening %s: %w", model.ErrConfig, path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: stat %s: %w", model.ErrConfig, path, err)
	}

	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Debug("config validation", d.Attr("detail"))
		}
		return nil, time.Time{}, fmt.Errorf("%w: parsing %s: %w", model.ErrConfig, path, err)
	}
	return cfg, info.ModTime(), nil
}
