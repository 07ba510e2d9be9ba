package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// DigestSize is the size of a SHA-256 key digest in bytes.
const DigestSize = sha256.Size

// Digest is the SHA-256 digest of a logical cache key. It determines where
// the key's entry lives on disk.
type Digest [DigestSize]byte

// KeyDigest computes the digest of a key. It does not validate the key.
func KeyDigest(key string) Digest {
	return Digest(sha256.Sum256([]byte(key)))
}

// String returns the lower-case hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ShardDirs returns the two nested shard directory names: the first and
// second hex characters of the digest, upper-cased.
func (d Digest) ShardDirs() (string, string) {
	s := strings.ToUpper(d.String()[:2])
	return s[:1], s[1:2]
}

// Name returns the entry filename, the hex digest minus its first two characters.
func (d Digest) Name() string {
	return d.String()[2:]
}

// RelPath returns the entry path relative to a cache root.
func (d Digest) RelPath() string {
	x, y := d.ShardDirs()
	return filepath.Join(x, y, d.Name())
}

// ShardPath returns the path of the entry for key relative to a cache root.
// It is a pure function of the key and never touches the filesystem.
func ShardPath(key string) string {
	return KeyDigest(key).RelPath()
}

// ChecksumSize is the size of a BLAKE3 checksum in bytes.
const ChecksumSize = 32

// Checksum is a BLAKE3-256 digest of stored entry bytes.
type Checksum [ChecksumSize]byte

// ChecksumBytes computes the BLAKE3 checksum of data.
func ChecksumBytes(data []byte) Checksum {
	return Checksum(blake3.Sum256(data))
}

// String returns the hex encoding of the checksum.
func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// ShortString returns a shortened hex representation for display.
func (c Checksum) ShortString() string {
	return hex.EncodeToString(c[:8])
}
