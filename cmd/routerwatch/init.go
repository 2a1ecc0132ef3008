package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/routerwatch/internal/defaults"
)

// runInit writes an annotated routerwatch.yaml into dir. An existing
// file is never overwritten.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, "routerwatch.yaml")
	written, err := writeIfMissing(path, defaults.ConfigYAML)
	if err != nil {
		return err
	}
	if !written {
		fmt.Fprintf(w, "%s already exists, leaving it alone\n", path)
		return nil
	}

	fmt.Fprintf(w, "Wrote %s\n", path)
	fmt.Fprintln(w, "Set router.host and the credentials, then run: routerwatch watch")
	return nil
}

// writeIfMissing writes content to path with owner-only permissions,
// since the file holds router credentials. It reports whether the file
// was written.
func writeIfMissing(path string, content []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", path, err)
	}
	return true, nil
}
