package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Exists reports whether dir is present and non-empty. Only such a directory
// counts as a built index.
func Exists(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking index directory: %w", err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("index location %s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("listing index directory: %w", err)
	}
	return len(entries) > 0, nil
}

// NewStaging creates an empty sibling directory of target to build into.
// Staging next to the target keeps Publish a same-filesystem rename.
func NewStaging(target string) (string, error) {
	target = filepath.Clean(target)
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("creating index parent directory: %w", err)
	}
	staging := filepath.Join(parent, fmt.Sprintf(".%s.staging-%s", filepath.Base(target), uuid.NewString()))
	if err := os.Mkdir(staging, 0o755); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	return staging, nil
}

// Publish replaces target with staging. The previous index is moved aside
// first and restored if the swap fails, so target is never left half-written.
func Publish(staging, target string) error {
	target = filepath.Clean(target)

	var old string
	if _, err := os.Stat(target); err == nil {
		old = filepath.Join(filepath.Dir(target), fmt.Sprintf(".%s.old-%s", filepath.Base(target), uuid.NewString()))
		if err := os.Rename(target, old); err != nil {
			return fmt.Errorf("moving previous index aside: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking index directory: %w", err)
	}

	if err := os.Rename(staging, target); err != nil {
		if old != "" {
			if rerr := os.Rename(old, target); rerr != nil {
				return fmt.Errorf("publishing index: %w (restoring previous index also failed: %v)", err, rerr)
			}
		}
		return fmt.Errorf("publishing index: %w", err)
	}

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			return fmt.Errorf("removing previous index: %w", err)
		}
	}
	return nil
}

// Discard removes a staging directory after a failed build.
func Discard(staging string) error {
	return os.RemoveAll(staging)
}
