package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(CodeInvalidToken, "test message", http.StatusUnauthorized),
			want: "[INVALID_TOKEN] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(CodeInternal, "test message", http.StatusInternalServerError, errors.New("underlying")),
			want: "[INTERNAL_ERROR] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeDatabaseError, "test", http.StatusInternalServerError, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestAPIError_WithDetails(t *testing.T) {
	err := New(CodeInvalidRequest, "test", http.StatusBadRequest)
	err.WithDetails("field", "nonce").WithDetails("reason", "too short")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(ReplayAttack("n1")); got != http.StatusUnauthorized {
		t.Errorf("HTTPStatus() = %d, want %d", got, http.StatusUnauthorized)
	}
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus() for non-APIError = %d, want %d", got, http.StatusInternalServerError)
	}
}

func TestIsAPIError(t *testing.T) {
	if !IsAPIError(DeviceNotFound("dev_1")) {
		t.Errorf("expected DeviceNotFound() to be recognized as an APIError")
	}
	if IsAPIError(errors.New("plain")) {
		t.Errorf("expected a plain error not to be recognized as an APIError")
	}
}
