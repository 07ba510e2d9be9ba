package backend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	filecache "github.com/wolfeidau/file-cache"
	"github.com/wolfeidau/file-cache/codec"
)

const (
	// tempPrefix marks in-flight writes in the cache root.
	// Names are .tmp-<unixnano>-<uuid> so the sweep can age out orphans.
	tempPrefix = ".tmp-"

	// staleTempAge is how old a temp file must be before the sweep treats
	// it as abandoned by a crashed writer.
	staleTempAge = time.Hour
)

// errMiss is the internal result of any lookup step that finds no usable
// entry. It never escapes the package: public methods turn it into the
// caller's default.
var errMiss = errors.New("cache miss")

// Filesystem implements filecache.Cache on the local filesystem.
// Writes are atomic using a temp file and rename pattern, and expiry is
// stored in each entry file's modification time.
type Filesystem struct {
	root       string
	defaultTTL time.Duration
	dirMode    os.FileMode
	fileMode   os.FileMode
	codec      *FrameCodec
	logger     *slog.Logger
	now        func() time.Time
}

// Stats summarises the entries currently on disk.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	Expired int   `json:"expired"`
}

// hit is a successfully decoded entry.
type hit struct {
	value     any
	expiresAt time.Time
}

// NewFilesystem creates a store rooted at cfg.Root. The root directory is
// created if missing, but its parent must already exist.
func NewFilesystem(cfg Config) (*Filesystem, error) {
	if cfg.Root == "" {
		return nil, errors.New("storage path required")
	}
	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = DefaultDirMode
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = DefaultFileMode
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultTTL < 0 {
		return nil, &filecache.ValidationError{Reason: fmt.Sprintf("negative default ttl %s", cfg.DefaultTTL)}
	}

	info, err := os.Stat(absRoot)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("root %s is not a directory", absRoot)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := os.Mkdir(absRoot, cfg.DirMode); err != nil {
			return nil, fmt.Errorf("creating root directory: %w", err)
		}
		if err := os.Chmod(absRoot, cfg.DirMode); err != nil {
			return nil, fmt.Errorf("setting root directory mode: %w", err)
		}
	default:
		return nil, fmt.Errorf("stat root directory: %w", err)
	}

	fc, err := NewFrameCodec()
	if err != nil {
		return nil, err
	}

	return &Filesystem{
		root:       absRoot,
		defaultTTL: cfg.DefaultTTL,
		dirMode:    cfg.DirMode,
		fileMode:   cfg.FileMode,
		codec:      fc,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

// Root returns the root directory path.
func (fs *Filesystem) Root() string {
	return fs.root
}

// Close releases compression resources. The store must not be used afterwards.
func (fs *Filesystem) Close() error {
	fs.codec.Close()
	return nil
}

// Path returns the entry path for key without touching the filesystem.
func (fs *Filesystem) Path(key string) (string, error) {
	if err := filecache.ValidateKey(key); err != nil {
		return "", err
	}
	return fs.keyToPath(key), nil
}

// Get returns the value stored for key, or def if the entry is absent,
// expired or unreadable. Expired entries are removed as a side effect.
func (fs *Filesystem) Get(ctx context.Context, key string, def any) (any, error) {
	if err := filecache.ValidateKey(key); err != nil {
		return nil, err
	}
	h, err := fs.lookup(fs.keyToPath(key))
	if err != nil {
		return def, nil
	}
	return h.value, nil
}

// Set stores value for key with the given TTL.
func (fs *Filesystem) Set(ctx context.Context, key string, value any, ttl filecache.TTL) error {
	if err := filecache.ValidateKey(key); err != nil {
		return err
	}
	return fs.set(key, value, ttl)
}

// Delete removes the entry for key. A missing entry is not an error.
func (fs *Filesystem) Delete(ctx context.Context, key string) error {
	if err := filecache.ValidateKey(key); err != nil {
		return err
	}
	return fs.remove(fs.keyToPath(key))
}

// Clear removes every entry. Individual failures do not stop the remaining
// removals; they are joined into the returned error.
func (fs *Filesystem) Clear(ctx context.Context) error {
	var errs []error
	for path, err := range fs.entries(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := fs.remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetMultiple looks up every key, substituting def for misses and for
// stored falsy values (nil, false, zero numbers, empty strings and empty
// collections). All keys are validated before any lookup.
func (fs *Filesystem) GetMultiple(ctx context.Context, keys []string, def any) (map[string]any, error) {
	if err := filecache.ValidateKeys(keys); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := fs.lookup(fs.keyToPath(key))
		if err != nil || isFalsy(h.value) {
			out[key] = def
			continue
		}
		out[key] = h.value
	}
	return out, nil
}

// SetMultiple stores every pair with the same TTL. All keys are validated
// first; every write is then attempted even if an earlier one fails.
func (fs *Filesystem) SetMultiple(ctx context.Context, values map[string]any, ttl filecache.TTL) error {
	keys := slices.Sorted(maps.Keys(values))
	if err := filecache.ValidateKeys(keys); err != nil {
		return err
	}

	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := fs.set(key, values[key], ttl); err != nil {
			errs = append(errs, fmt.Errorf("setting %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// DeleteMultiple removes every key. All keys are validated first; every
// removal is then attempted even if an earlier one fails.
func (fs *Filesystem) DeleteMultiple(ctx context.Context, keys []string) error {
	if err := filecache.ValidateKeys(keys); err != nil {
		return err
	}

	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := fs.remove(fs.keyToPath(key)); err != nil {
			errs = append(errs, fmt.Errorf("deleting %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Has reports whether a live, readable entry exists for key.
func (fs *Filesystem) Has(ctx context.Context, key string) (bool, error) {
	if err := filecache.ValidateKey(key); err != nil {
		return false, err
	}
	_, err := fs.lookup(fs.keyToPath(key))
	return err == nil, nil
}

// Increment adds step to the integer stored for key and returns the result.
func (fs *Filesystem) Increment(ctx context.Context, key string, step int64) (int64, error) {
	return fs.adjust(key, step)
}

// Decrement subtracts step from the integer stored for key and returns the result.
func (fs *Filesystem) Decrement(ctx context.Context, key string, step int64) (int64, error) {
	if step == math.MinInt64 {
		return 0, filecache.ErrCounterOverflow
	}
	return fs.adjust(key, -step)
}

// adjust performs a locked read-modify-write of a counter. Updates are
// serialised by the shard lock, so concurrent callers across processes
// never lose an increment. The entry keeps its existing expiry; a new
// counter gets the default TTL.
func (fs *Filesystem) adjust(key string, delta int64) (int64, error) {
	if err := filecache.ValidateKey(key); err != nil {
		return 0, err
	}

	path := fs.keyToPath(key)
	dir := filepath.Dir(path)
	if err := fs.ensureDir(dir); err != nil {
		return 0, writeFailure("creating shard directory", err)
	}

	unlock, err := fs.lockShard(dir)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var current int64
	var expiresAt time.Time
	if h, err := fs.lookup(path); err == nil {
		n, ok := toInt64(h.value)
		if !ok {
			return 0, fmt.Errorf("%w: %q holds %T", filecache.ErrNotInteger, key, h.value)
		}
		current, expiresAt = n, h.expiresAt
	} else {
		expiresAt, err = filecache.DefaultTTL.ExpiresAt(fs.now(), fs.defaultTTL)
		if err != nil {
			return 0, err
		}
	}

	next := current + delta
	if (delta > 0 && next < current) || (delta < 0 && next > current) {
		return 0, fmt.Errorf("%w: %d%+d", filecache.ErrCounterOverflow, current, delta)
	}

	if err := fs.write(path, next, expiresAt); err != nil {
		fs.logger.Warn("counter write failed", "key", key, "error", err)
		return 0, err
	}
	return next, nil
}

// CleanExpired removes every entry whose expiry has passed and returns how
// many were removed. Removal failures are ignored; a concurrent deleter or
// writer may have got there first. Temp files orphaned by crashed writers
// are removed as well.
func (fs *Filesystem) CleanExpired(ctx context.Context) (int, error) {
	now := fs.now()
	removed := 0

	for path, err := range fs.entries(ctx) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return removed, ctxErr
			}
			fs.logger.Debug("skipping unreadable path", "error", err)
			continue
		}

		info, err := os.Stat(path)
		if err != nil || !filecache.Expired(info.ModTime(), now) {
			continue
		}
		if err := os.Remove(path); err != nil {
			fs.logger.Debug("removing expired entry", "path", path, "error", err)
			continue
		}
		removed++
	}

	if n := fs.removeStaleTemps(now); n > 0 {
		fs.logger.Info("removed orphaned temp files", "count", n)
	}
	return removed, nil
}

// Stats walks the store and summarises its entries.
func (fs *Filesystem) Stats(ctx context.Context) (Stats, error) {
	now := fs.now()
	var st Stats
	for path, err := range fs.entries(ctx) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return st, ctxErr
			}
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		st.Entries++
		st.Bytes += info.Size()
		if filecache.Expired(info.ModTime(), now) {
			st.Expired++
		}
	}
	return st, nil
}

func (fs *Filesystem) set(key string, value any, ttl filecache.TTL) error {
	expiresAt, err := ttl.ExpiresAt(fs.now(), fs.defaultTTL)
	if err != nil {
		return err
	}
	return fs.write(fs.keyToPath(key), value, expiresAt)
}

// lookup resolves path to a decoded entry. Every way an entry can be
// unusable (absent, expired, vanished mid-read, undecodable) yields errMiss.
func (fs *Filesystem) lookup(path string) (hit, error) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fs.logger.Debug("stat entry", "path", path, "error", err)
		}
		return hit{}, errMiss
	}
	if info.IsDir() {
		return hit{}, errMiss
	}

	expiresAt := info.ModTime()
	if filecache.Expired(expiresAt, fs.now()) {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			fs.logger.Debug("removing expired entry", "path", path, "error", err)
		}
		return hit{}, errMiss
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return hit{}, errMiss
	}

	payload, err := fs.codec.Decode(data)
	if err != nil {
		fs.logger.Debug("discarding unreadable entry", "path", path, "error", err)
		return hit{}, errMiss
	}
	if codec.IsFalse(payload) {
		return hit{value: false, expiresAt: expiresAt}, nil
	}

	value, err := codec.Decode(payload)
	if err != nil {
		fs.logger.Debug("discarding undecodable entry", "path", path, "error", err)
		return hit{}, errMiss
	}
	return hit{value: value, expiresAt: expiresAt}, nil
}

// write atomically replaces the entry at path. The encoded value goes to a
// uniquely named temp file in the root, which gets the file mode and the
// expiry as its modification time before being renamed into place. On any
// failure the temp file is removed and the destination is left untouched.
func (fs *Filesystem) write(path string, value any, expiresAt time.Time) error {
	payload, err := codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	framed, err := fs.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("framing value: %w", err)
	}

	if err := fs.ensureDir(filepath.Dir(path)); err != nil {
		return writeFailure("creating directory", err)
	}

	now := fs.now()
	tmpPath := filepath.Join(fs.root, tempPrefix+strconv.FormatInt(now.UnixNano(), 10)+"-"+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fs.fileMode)
	if err != nil {
		return writeFailure("creating temp file", err)
	}

	// Clean up temp file on error
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(framed); err != nil {
		return writeFailure("writing data", err)
	}
	if err := tmp.Sync(); err != nil {
		return writeFailure("syncing file", err)
	}
	if err := tmp.Close(); err != nil {
		return writeFailure("closing temp file", err)
	}
	if err := os.Chmod(tmpPath, fs.fileMode); err != nil {
		return writeFailure("setting file mode", err)
	}
	if err := os.Chtimes(tmpPath, now, expiresAt); err != nil {
		return writeFailure("setting expiry", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return writeFailure("renaming temp file", err)
	}

	success = true
	return nil
}

// remove deletes path, treating an already-missing file as success.
func (fs *Filesystem) remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// entries lazily walks the root and yields every entry file, skipping
// directories, shard lock files and in-flight temp files. Walk errors are
// yielded with an empty path; the walk stops once ctx is done.
func (fs *Filesystem) entries(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		_ = filepath.WalkDir(fs.root, func(path string, d os.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield("", ctxErr)
				return filepath.SkipAll
			}
			if err != nil {
				if !yield("", fmt.Errorf("walking %s: %w", path, err)) {
					return filepath.SkipAll
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if name := d.Name(); name == lockFileName || strings.HasPrefix(name, tempPrefix) {
				return nil
			}
			if !yield(path, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// removeStaleTemps deletes temp files in the root created more than
// staleTempAge before now.
func (fs *Filesystem) removeStaleTemps(now time.Time) int {
	dirEntries, err := os.ReadDir(fs.root)
	if err != nil {
		return 0
	}

	removed := 0
	for _, d := range dirEntries {
		rest, ok := strings.CutPrefix(d.Name(), tempPrefix)
		if !ok || d.IsDir() {
			continue
		}
		stamp, _, _ := strings.Cut(rest, "-")
		nanos, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil || now.Sub(time.Unix(0, nanos)) < staleTempAge {
			continue
		}
		if err := os.Remove(filepath.Join(fs.root, d.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// keyToPath converts a validated key to its entry path.
func (fs *Filesystem) keyToPath(key string) string {
	return filepath.Join(fs.root, filecache.ShardPath(key))
}

func writeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", filecache.ErrWriteFailed, op, err)
}

// isFalsy reports whether v is a zero scalar or an empty string or collection.
func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	case []byte:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case float32:
		return x == 0
	case float64:
		return x == 0
	case time.Duration:
		return x == 0
	}
	n, ok := toInt64(v)
	return ok && n == 0
}

// toInt64 converts any stored integer to int64.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64 //nolint:gosec // range checked
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64 //nolint:gosec // range checked
	default:
		return 0, false
	}
}

// Compile-time interface checks
var _ filecache.Cache = (*Filesystem)(nil)
