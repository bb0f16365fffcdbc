package client

import (
	"errors"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{
			name:       "client error should not retry",
			errorClass: ErrorClassClient,
			expected:   false,
		},
		{
			name:       "server error should retry",
			errorClass: ErrorClassServer,
			expected:   true,
		},
		{
			name:       "rate limit should retry",
			errorClass: ErrorClassRateLimit,
			expected:   true,
		},
		{
			name:       "network error should retry",
			errorClass: ErrorClassNetwork,
			expected:   true,
		},
		{
			name:       "empty error class should not retry",
			errorClass: "",
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldRetry(tt.errorClass)
			if result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{200, ""},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.expected {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestHTTPError_Error(t *testing.T) {
	tests := []struct {
		name      string
		httpError *HTTPError
		expected  string
	}{
		{
			name: "error with wrapped error",
			httpError: &HTTPError{
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        errors.New("connection refused"),
			},
			expected: "HTTP network error (status 0): request failed: connection refused",
		},
		{
			name: "error without wrapped error",
			httpError: &HTTPError{
				StatusCode: 404,
				ErrorClass: ErrorClassClient,
				Message:    "404 Not Found",
			},
			expected: "HTTP client error (status 404): 404 Not Found",
		},
		{
			name: "rate limit error",
			httpError: &HTTPError{
				StatusCode: 429,
				ErrorClass: ErrorClassRateLimit,
				Message:    "429 Too Many Requests",
			},
			expected: "HTTP rate_limit error (status 429): 429 Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.httpError.Error()
			if result != tt.expected {
				t.Errorf("Error() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestHTTPError_Unwrap(t *testing.T) {
	wrappedErr := errors.New("wrapped error")
	httpError := &HTTPError{
		ErrorClass: ErrorClassNetwork,
		Message:    "request failed",
		Err:        wrappedErr,
	}

	if unwrapped := httpError.Unwrap(); unwrapped != wrappedErr {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, wrappedErr)
	}

	if !errors.Is(httpError, wrappedErr) {
		t.Error("errors.Is should work with wrapped error")
	}
}
