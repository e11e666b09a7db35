package proxyerr

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name         string
		err          *Error
		expectedType ErrorType
	}{
		{"config", NewConfigError("bad host"), ErrorTypeConfig},
		{"proxy", NewProxyError("socks5", "proxy:1080", "connect", fmt.Errorf("refused")), ErrorTypeProxy},
		{"protocol", NewProtocolError("bad status line", nil), ErrorTypeProtocol},
		{"timeout", NewTimeoutError("pool acquire", 5*time.Second), ErrorTypeTimeout},
		{"io", NewIOError("reading body", fmt.Errorf("broken pipe")), ErrorTypeIO},
		{"cancelled", NewCancelledError("handshake", context.Canceled), ErrorTypeCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.expectedType {
				t.Errorf("expected type %v, got %v", tt.expectedType, tt.err.Type)
			}
			if tt.err.Error() == "" {
				t.Errorf("expected non-empty error string")
			}
		})
	}
}

func TestErrorIsMatchesByType(t *testing.T) {
	err := NewTimeoutError("pool acquire", time.Second)
	if !err.Is(&Error{Type: ErrorTypeTimeout}) {
		t.Fatalf("expected Is to match on type")
	}
	if err.Is(&Error{Type: ErrorTypeProxy}) {
		t.Fatalf("expected Is to not match different type")
	}
}

func TestIsTimeoutError(t *testing.T) {
	if !IsTimeoutError(NewTimeoutError("x", time.Second)) {
		t.Fatalf("expected timeout error to be detected")
	}
	if !IsTimeoutError(context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded to be detected as timeout")
	}
	if IsTimeoutError(NewConfigError("x")) {
		t.Fatalf("config error should not be a timeout")
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(context.Canceled) {
		t.Fatalf("expected context.Canceled to be detected")
	}
	if !IsCancelled(NewCancelledError("op", context.Canceled)) {
		t.Fatalf("expected wrapped cancellation to be detected")
	}
}

func TestWithHostPort(t *testing.T) {
	base := NewProxyError("http", "proxy:8080", "connect", nil)
	withHP := base.WithHostPort("example.com", 443)
	if withHP.Addr != "example.com:443" {
		t.Fatalf("expected addr to be overwritten, got %q", withHP.Addr)
	}
	if base.Addr != "proxy:8080" {
		t.Fatalf("expected original error to remain unmodified, got %q", base.Addr)
	}
}
