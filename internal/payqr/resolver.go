package payqr

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirFunc reports the host data directory. An error or an empty path
// means the directory is unavailable.
type DataDirFunc func() (string, error)

// Resolver locates a configured file across the storage roots a host may
// keep extension assets under.
type Resolver struct {
	// ExtensionID names the extension's own storage area,
	// <data>/plugin_data/<ExtensionID>.
	ExtensionID string
	DataDir     DataDirFunc
	// Getwd defaults to os.Getwd.
	Getwd func() (string, error)
}

// Candidates returns the locations tried for raw, in priority order:
// raw as given, the extension's storage area, the data dir, its parent and
// the working directory. Roots that cannot be determined are left out.
// raw is used verbatim, surrounding spaces included.
func (r Resolver) Candidates(raw string) []string {
	if raw == "" {
		return nil
	}

	candidates := []string{raw}
	if filepath.IsAbs(raw) {
		return candidates
	}

	if dataDir, ok := r.dataDir(); ok {
		if r.ExtensionID != "" {
			candidates = append(candidates, filepath.Join(dataDir, "plugin_data", r.ExtensionID, raw))
		}
		candidates = append(candidates,
			filepath.Join(dataDir, raw),
			filepath.Join(filepath.Dir(dataDir), raw),
		)
	}

	getwd := r.Getwd
	if getwd == nil {
		getwd = os.Getwd
	}
	if cwd, err := getwd(); err == nil && cwd != "" {
		candidates = append(candidates, filepath.Join(cwd, raw))
	}
	return candidates
}

// Resolve returns the absolute path of the first candidate that exists as a
// file. ok is false when none does.
func (r Resolver) Resolve(raw string) (path string, ok bool) {
	for _, candidate := range r.Candidates(raw) {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		return abs, true
	}
	return "", false
}

// dataDir treats an error, an empty path or a panicking accessor alike.
func (r Resolver) dataDir() (dir string, ok bool) {
	if r.DataDir == nil {
		return "", false
	}
	defer func() {
		if recover() != nil {
			dir, ok = "", false
		}
	}()
	dir, err := r.DataDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return "", false
	}
	return filepath.Clean(dir), true
}
