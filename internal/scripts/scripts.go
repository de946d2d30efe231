// Package scripts holds the bundled vendor scripts and writes them to
// ephemeral files an interpreter can execute.
package scripts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/driverpack/driverpack/internal/model"
)

//go:embed bundled/*.ps1
var bundled embed.FS

// utf8BOM is kept in front of every materialized script, Windows PowerShell
// reads BOM-less files in the legacy code page.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Bundled returns the scripts compiled into the binary.
func Bundled() fs.FS {
	sub, err := fs.Sub(bundled, "bundled")
	if err != nil {
		panic(err)
	}
	return sub
}

// List returns paths of all regular files in fsys.
func List(fsys fs.FS) ([]string, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			names = append(names, p)
		}
		return nil
	})
	return names, err
}

// Find returns the first resource whose path ends with name, compared
// case-insensitively and on a path element boundary.
func Find(fsys fs.FS, name string) (string, error) {
	want := strings.ToLower(strings.TrimLeft(path.Clean("/"+filepath.ToSlash(name)), "/"))
	if want == "" || want == "." {
		return "", fmt.Errorf("%w: empty script name", model.ErrResourceNotFound)
	}
	names, err := List(fsys)
	if err != nil {
		return "", fmt.Errorf("listing scripts: %w", err)
	}
	for _, n := range names {
		ln := strings.ToLower(n)
		if ln == want || strings.HasSuffix(ln, "/"+want) {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %s", model.ErrResourceNotFound, name)
}

type Materializer struct {
	fsys fs.FS
	dir  string
}

// NewMaterializer writes scripts from fsys into scratchDir, os.TempDir when empty.
func NewMaterializer(fsys fs.FS, scratchDir string) *Materializer {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Materializer{fsys: fsys, dir: scratchDir}
}

// Materialize writes the named script to a new file with a UTF-8 byte order
// mark. Each call creates a distinct file. The caller owns the returned
// TempScript and must Release it.
func (m *Materializer) Materialize(name string) (*TempScript, error) {
	res, err := Find(m.fsys, name)
	if err != nil {
		return nil, err
	}
	payload, err := fs.ReadFile(m.fsys, res)
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", res, err)
	}

	p := filepath.Join(m.dir, "driverpack-"+uuid.NewString()+"-"+path.Base(res))
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating temp script: %w", err)
	}
	ts := &TempScript{path: p}

	var werr error
	if !bytes.HasPrefix(payload, utf8BOM) {
		_, werr = f.Write(utf8BOM)
	}
	if werr == nil {
		_, werr = f.Write(payload)
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, errors.Join(fmt.Errorf("writing temp script %s: %w", p, werr), ts.Release())
	}
	return ts, nil
}

// TempScript is a materialized script owned by a single run.
type TempScript struct {
	path string
	once sync.Once
	err  error
}

func (t *TempScript) Path() string {
	return t.path
}

// Release deletes the file. It is safe to call multiple times and when the
// file is already gone.
func (t *TempScript) Release() error {
	t.once.Do(func() {
		err := os.Remove(t.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.err = fmt.Errorf("removing temp script %s: %w", t.path, err)
			return
		}
		slog.Debug("temp script deleted", "path", t.path)
	})
	return t.err
}
