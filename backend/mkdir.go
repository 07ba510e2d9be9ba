package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ensureDir creates dir and any missing parents with the configured mode.
// It walks up to the nearest existing ancestor and then creates the missing
// levels top-down, chmodding each so the result does not depend on the umask.
func (fs *Filesystem) ensureDir(dir string) error {
	var missing []string
	for p := dir; ; {
		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", p)
			}
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		missing = append(missing, p)

		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	for i := len(missing) - 1; i >= 0; i-- {
		p := missing[i]
		if err := os.Mkdir(p, fs.dirMode); err != nil {
			// Lost a race with another creator.
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return fmt.Errorf("creating directory %s: %w", p, err)
		}
		if err := os.Chmod(p, fs.dirMode); err != nil {
			return fmt.Errorf("setting mode on %s: %w", p, err)
		}
	}
	return nil
}
