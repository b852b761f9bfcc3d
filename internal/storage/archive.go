package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Pack writes the files of the index directory dir into a zip archive.
func Pack(dir, archivePath string) error {
	ok, err := Exists(dir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("index directory %s is missing or empty", dir)
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	tmp := archivePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	zw := zip.NewWriter(f)
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, filepath.ToSlash(rel))
	})
	if walkErr == nil {
		walkErr = zw.Close()
	}
	if cerr := f.Close(); walkErr == nil {
		walkErr = cerr
	}
	if walkErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing archive: %w", walkErr)
	}
	return os.Rename(tmp, archivePath)
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// Unpack extracts archivePath into target. Extraction happens in a staging
// directory that is published only when every entry was written.
func Unpack(archivePath, target string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	staging, err := NewStaging(target)
	if err != nil {
		return err
	}

	for _, f := range zr.File {
		if err := extractFile(f, staging); err != nil {
			Discard(staging)
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}

	if err := Publish(staging, target); err != nil {
		Discard(staging)
		return err
	}
	return nil
}

func extractFile(f *zip.File, root string) error {
	dest := filepath.Join(root, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(dest, filepath.Clean(root)+string(os.PathSeparator)) {
		return fmt.Errorf("entry escapes archive root")
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
