// Package utils provides helpers shared by the storage manager and its CLI.
package utils

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxExtensionLength drops extensions that are unlikely to be real ones.
const maxExtensionLength = 16

// GenerateObjectKey creates a unique key for an uploaded file.
// Format: prefix/2006/01/02/<uuid>.ext
// The original name is not kept; only its extension survives.
func GenerateObjectKey(prefix, filename string, now time.Time) string {
	id := uuid.NewString() + CleanExtension(filename)
	datePath := now.UTC().Format("2006/01/02")

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", datePath, id)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, datePath, id)
}

// CleanExtension returns the lower-cased extension of filename including the
// dot, or "" when it is missing or contains anything but letters and digits.
func CleanExtension(filename string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	if len(ext) < 2 || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// ParseObjectKeyDate extracts the upload date from a key made by GenerateObjectKey.
func ParseObjectKeyDate(key string) (time.Time, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 4 {
		return time.Time{}, fmt.Errorf("key too short to contain a date: %s", key)
	}

	datePart := strings.Join(parts[len(parts)-4:len(parts)-1], "/")
	t, err := time.Parse("2006/01/02", datePart)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date in key %s: %w", key, err)
	}
	return t.UTC(), nil
}
