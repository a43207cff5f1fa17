package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrServiceRequired", ErrServiceRequired, "resflow: service is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "resflow: handler is required"},
		{"ErrConfigRequired", ErrConfigRequired, "resflow: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "resflow: logger is required"},
		{"ErrConnRequired", ErrConnRequired, "resflow: connection is required"},
		{"ErrInvalidPattern", ErrInvalidPattern, "resflow: invalid pattern"},
		{"ErrDuplicatePattern", ErrDuplicatePattern, "resflow: pattern already registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("model.$id.>.x", ErrInvalidPattern, "'>' must be the last token")

	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("expected errors.Is to match ErrInvalidPattern, got %v", err)
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if cfgErr.Pattern != "model.$id.>.x" {
		t.Errorf("Pattern = %q", cfgErr.Pattern)
	}

	want := `resflow: invalid pattern ('>' must be the last token): "model.$id.>.x"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "resflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
	if NewConfigValidationError(nil) != nil {
		t.Error("NewConfigValidationError(nil) should be nil")
	}
}

func TestProtocolErrorIsMatchesCode(t *testing.T) {
	custom := &Error{Code: CodeNotFound, Message: "Book not found"}
	if !errors.Is(custom, ErrNotFound) {
		t.Fatal("expected custom not found error to match ErrNotFound")
	}
	if errors.Is(custom, ErrAccessDenied) {
		t.Fatal("did not expect match with ErrAccessDenied")
	}
}

func TestToError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if ToError(nil) != nil {
			t.Fatal("expected nil")
		}
	})

	t.Run("keeps wrapped protocol error", func(t *testing.T) {
		wrapped := fmt.Errorf("lookup: %w", ErrInvalidParams)
		if got := ToError(wrapped); got != ErrInvalidParams {
			t.Fatalf("ToError() = %v, want ErrInvalidParams", got)
		}
	})

	t.Run("plain error becomes internal error", func(t *testing.T) {
		got := ToError(errors.New("disk full"))
		if got.Code != CodeInternalError {
			t.Fatalf("code = %q", got.Code)
		}
		if got.Message != "Internal error: disk full" {
			t.Fatalf("message = %q", got.Message)
		}
	})
}
