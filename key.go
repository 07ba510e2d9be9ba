package filecache

import (
	"fmt"
	"strings"
)

// ReservedKeyChars are the characters a key may not contain.
const ReservedKeyChars = `{}()/\@:`

// ValidationError reports an invalid key or TTL.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return "invalid cache argument: " + e.Reason
	}
	return fmt.Sprintf("invalid cache key %q: %s", e.Key, e.Reason)
}

// ValidateKey checks that key is non-empty and free of reserved characters.
func ValidateKey(key string) error {
	if key == "" {
		return &ValidationError{Reason: "key must not be empty"}
	}
	if i := strings.IndexAny(key, ReservedKeyChars); i >= 0 {
		return &ValidationError{
			Key:    key,
			Reason: fmt.Sprintf("reserved character %q", key[i]),
		}
	}
	return nil
}

// ValidateKeys validates every key, returning the first failure.
func ValidateKeys(keys []string) error {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return err
		}
	}
	return nil
}
