package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"duplicate key", fmt.Errorf("write row: %w", ErrDuplicateKey), "DB001"},
		{"postgres unique violation", errors.New(`ERROR: duplicate key value violates unique constraint "records_pkey"`), "DB001"},
		{"unique constraint", errors.New("violates unique constraint"), "DB002"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), "DB004"},
		{"deadline", context.DeadlineExceeded, "DB006"},
		{"cancelled", context.Canceled, "IMP004"},
		{"missing dataset", &ConfigError{Field: "dataset", Reason: "is required"}, "CFG001"},
		{"bad strategy", &ConfigError{Field: "strategy", Reason: `"merge" is not valid`}, "CFG002"},
		{"missing reference", &ConfigError{Field: "reference", Reason: "is required for products"}, "CFG003"},
		{"header", errors.New("header not found (expected: sku, name)"), "VAL005"},
		{"enum", ValidationError{Field: "role", Message: "invalid enum, must be one of: admin"}, "VAL006"},
		{"reference row", errors.New(`category: unknown reference "toys" in categories`), "VAL007"},
		{"csv parse", errors.New(`parse error on line 3, column 4: bare " in non-quoted-field`), "FILE003"},
		{"file too large", ErrUploadTooLarge, "FILE001"},
		{"upload not found", ErrUploadNotFound, "UPL001"},
		{"upload incomplete", fmt.Errorf("start import: %w", ErrUploadIncomplete), "UPL002"},
		{"job active", ErrJobActive, "IMP002"},
		{"too many", ErrTooManyImports, "IMP003"},
		{"report", ErrReportNotFound, "IMP005"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown", errors.New("some random internal error"), "ERR000"},
		{"case insensitive", errors.New("DUPLICATE KEY"), "DB001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrJobActive)

	expected := "An import is already running for this upload (Code: IMP002). Wait for it to finish or cancel it"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrUploadNotFound, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("insert: %w", ErrDuplicateKey)
		userErr := NewUserError(techErr)

		if userErr.Error() != "A record with this key already exists" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrDuplicateKey) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}
