package storage

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxKeyLength is the longest accepted key, in characters.
const MaxKeyLength = 1024

const forbiddenKeyChars = `<>:"|?*`

// ValidateKey checks that key is non-empty, at most MaxKeyLength characters
// and free of the characters < > : " | ? *.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key is not valid UTF-8", ErrInvalidKey)
	}
	if n := utf8.RuneCountInString(key); n > MaxKeyLength {
		return fmt.Errorf("%w: key has %d characters, limit is %d", ErrInvalidKey, n, MaxKeyLength)
	}
	if i := strings.IndexAny(key, forbiddenKeyChars); i >= 0 {
		return fmt.Errorf("%w: key contains forbidden character %q", ErrInvalidKey, key[i])
	}
	return nil
}

// validatePrefix accepts the empty prefix; anything else follows key rules.
func validatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	return ValidateKey(prefix)
}
