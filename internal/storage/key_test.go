package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "simple", key: "file.txt"},
		{name: "nested", key: "uploads/2024/01/photo.jpg"},
		{name: "unicode", key: "docs/résumé.pdf"},
		{name: "max length", key: strings.Repeat("a", MaxKeyLength)},
		{name: "max length in runes", key: strings.Repeat("é", MaxKeyLength)},
		{name: "empty", key: "", wantErr: true},
		{name: "too long", key: strings.Repeat("a", MaxKeyLength+1), wantErr: true},
		{name: "asterisk", key: "file*.txt", wantErr: true},
		{name: "less than", key: "a<b", wantErr: true},
		{name: "greater than", key: "a>b", wantErr: true},
		{name: "colon", key: "c:file", wantErr: true},
		{name: "quote", key: `a"b`, wantErr: true},
		{name: "pipe", key: "a|b", wantErr: true},
		{name: "question mark", key: "a?b", wantErr: true},
		{name: "invalid utf8", key: "bad\xff", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey() error = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestValidatePrefix(t *testing.T) {
	if err := validatePrefix(""); err != nil {
		t.Errorf("validatePrefix(\"\") error = %v", err)
	}
	if err := validatePrefix("a/"); err != nil {
		t.Errorf("validatePrefix(\"a/\") error = %v", err)
	}
	if err := validatePrefix("a*"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("validatePrefix(\"a*\") error = %v, want ErrInvalidKey", err)
	}
}

func TestErrorClassification(t *testing.T) {
	backend := newBackendError("s3", "upload", errors.New("timeout"))
	var be *BackendError
	if !errors.As(backend, &be) || be.Provider != "s3" {
		t.Fatalf("newBackendError() = %v, want *BackendError", backend)
	}
	if IsCallerError(backend) {
		t.Error("IsCallerError(backend) = true, want false")
	}

	notFound := newBackendError("s3", "download", ErrNotFound)
	if notFound != ErrNotFound {
		t.Errorf("newBackendError() wrapped a caller error: %v", notFound)
	}

	if newBackendError("s3", "x", backend) != backend {
		t.Error("newBackendError() re-wrapped a BackendError")
	}

	opErr := &OperationError{Op: "upload", Attempts: 3, Err: backend}
	if got := opErr.Error(); got != "storage upload failed after 3 attempt(s): s3 upload: timeout" {
		t.Errorf("OperationError.Error() = %q", got)
	}
	if !errors.As(opErr, &be) {
		t.Error("OperationError does not unwrap to BackendError")
	}
}
