// Package backend provides the filesystem storage engine for the cache.
//
// Entries live at <root>/<X>/<Y>/<rest-of-hash>, where the path is derived
// from the SHA-256 digest of the key, and expire when the current time
// reaches the file's modification time.
package backend

import (
	"log/slog"
	"os"
	"time"
)

const (
	// DefaultDirMode is applied to directories created by the store.
	DefaultDirMode os.FileMode = 0o755

	// DefaultFileMode is applied to entry files written by the store.
	DefaultFileMode os.FileMode = 0o644
)

// Config holds construction-time settings for a Filesystem.
// They are immutable once the store is created.
type Config struct {
	// Root is the cache directory. It is created if its parent exists.
	Root string

	// DefaultTTL applies to writes using filecache.DefaultTTL.
	// Zero means entries written that way never expire.
	DefaultTTL time.Duration

	// DirMode is applied to every directory the store creates.
	DirMode os.FileMode

	// FileMode is applied to every entry file the store writes.
	FileMode os.FileMode

	// Logger for best-effort failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a configuration rooted at root with default modes
// and no default TTL.
func DefaultConfig(root string) Config {
	return Config{
		Root:     root,
		DirMode:  DefaultDirMode,
		FileMode: DefaultFileMode,
		Logger:   slog.Default(),
	}
}
