package backend

import (
	"fmt"
	"os"
	"path/filepath"
)

// lockFileName is the per-shard lock file. Every key hashing into the same
// two-level shard shares it, so there are at most 16×16 independent locks.
const lockFileName = ".lock"

// lockShard blocks until it holds the exclusive lock for the shard directory
// dir and returns a function that releases it. There is no timeout: a
// stalled holder blocks every counter update in the shard.
func (fs *Filesystem) lockShard(dir string) (func(), error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, fs.fileMode)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}

	return func() {
		if err := unlockFile(f); err != nil {
			fs.logger.Debug("releasing shard lock", "path", path, "error", err)
		}
		_ = f.Close()
	}, nil
}
