package filecache

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// NoExpiry is the modification time that marks an entry as never expiring.
//
// It sits well past any realistic expiry but before 2262-04-11, the last
// instant os.Chtimes can set: file times pass through UnixNano, which
// overflows int64 after that date.
var NoExpiry = time.Date(2200, time.January, 1, 0, 0, 0, 0, time.UTC)

const maxTTLSeconds = int64(math.MaxInt64 / int64(time.Second))

type ttlKind uint8

const (
	ttlDefault ttlKind = iota
	ttlNever
	ttlSeconds
	ttlInterval
)

// TTL describes how long an entry lives. The zero value means "use the
// store's default TTL".
type TTL struct {
	kind    ttlKind
	seconds int64
	d       time.Duration
}

// DefaultTTL uses the TTL configured on the store.
var DefaultTTL = TTL{}

// Never stores an entry without expiration.
var Never = TTL{kind: ttlNever}

// Seconds expires an entry n seconds after it is written. Zero or negative
// values produce an entry that is already expired.
func Seconds(n int64) TTL {
	return TTL{kind: ttlSeconds, seconds: n}
}

// Interval expires an entry d after it is written.
func Interval(d time.Duration) TTL {
	return TTL{kind: ttlInterval, d: d}
}

// IsDefault reports whether t defers to the store's default TTL.
func (t TTL) IsDefault() bool {
	return t.kind == ttlDefault
}

func (t TTL) String() string {
	switch t.kind {
	case ttlNever:
		return "never"
	case ttlSeconds:
		return strconv.FormatInt(t.seconds, 10)
	case ttlInterval:
		return t.d.String()
	default:
		return "default"
	}
}

// ExpiresAt computes the absolute expiry of an entry written at now.
// A default TTL resolves to def, where def <= 0 means no expiration.
func (t TTL) ExpiresAt(now time.Time, def time.Duration) (time.Time, error) {
	var d time.Duration
	switch t.kind {
	case ttlDefault:
		if def <= 0 {
			return NoExpiry, nil
		}
		d = def
	case ttlNever:
		return NoExpiry, nil
	case ttlSeconds:
		if t.seconds > maxTTLSeconds {
			return time.Time{}, &ValidationError{Reason: fmt.Sprintf("ttl of %d seconds exceeds maximum", t.seconds)}
		}
		d = time.Duration(max(t.seconds, -maxTTLSeconds)) * time.Second
	case ttlInterval:
		d = t.d
	default:
		return time.Time{}, &ValidationError{Reason: "unknown ttl kind"}
	}

	expires := now.Add(d)
	if !expires.Before(NoExpiry) {
		return time.Time{}, &ValidationError{Reason: fmt.Sprintf("ttl %s exceeds maximum", t)}
	}
	return expires, nil
}

// ParseTTL parses a TTL from text. Accepted forms are an empty string or
// "default", "never", an integer number of seconds, or a Go duration such
// as "90s" or "1h30m". Anything else is a *ValidationError.
func ParseTTL(s string) (TTL, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "default":
		return DefaultTTL, nil
	case "never", "none":
		return Never, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Seconds(n), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return TTL{}, &ValidationError{Reason: fmt.Sprintf("unrecognised ttl %q", s)}
	}
	return Interval(d), nil
}

// IsNoExpiry reports whether an entry modification time marks it as never expiring.
func IsNoExpiry(mtime time.Time) bool {
	return !mtime.Before(NoExpiry)
}

// Expired reports whether an entry with the given modification time has
// expired at now.
func Expired(mtime, now time.Time) bool {
	if IsNoExpiry(mtime) {
		return false
	}
	return !now.Before(mtime)
}
