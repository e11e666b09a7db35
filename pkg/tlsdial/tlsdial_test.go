package tlsdial

import (
	"crypto/tls"
	"testing"
)

func TestBuildSNIPrecedence(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		fallbackHost string
		wantSNI      string
	}{
		{"fallback host used by default", Config{}, "example.com", "example.com"},
		{"explicit ServerName wins", Config{ServerName: "override.example.com"}, "example.com", "override.example.com"},
		{"DisableSNI leaves it empty", Config{DisableSNI: true}, "example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.build(tt.fallbackHost)
			if got.ServerName != tt.wantSNI {
				t.Fatalf("ServerName = %q, want %q", got.ServerName, tt.wantSNI)
			}
		})
	}
}

func TestBuildDefaultProfileIsSecure(t *testing.T) {
	cfg := Config{}.build("example.com")
	if cfg.MinVersion != tls.VersionTLS12 || cfg.MaxVersion != tls.VersionTLS13 {
		t.Fatalf("expected default profile TLS1.2-1.3, got min=%x max=%x", cfg.MinVersion, cfg.MaxVersion)
	}
	if len(cfg.CipherSuites) == 0 {
		t.Fatalf("expected secure cipher suites to be set for TLS1.2 floor")
	}
}

func TestBuildModernProfileOmitsCipherSuites(t *testing.T) {
	cfg := Config{Profile: ProfileModern}.build("example.com")
	if cfg.CipherSuites != nil {
		t.Fatalf("TLS1.3-only profile should not set CipherSuites, got %v", cfg.CipherSuites)
	}
}

func TestBuildCustomCipherSuitesOverride(t *testing.T) {
	custom := []uint16{tls.TLS_RSA_WITH_AES_128_CBC_SHA}
	cfg := Config{CipherSuites: custom}.build("example.com")
	if len(cfg.CipherSuites) != 1 || cfg.CipherSuites[0] != custom[0] {
		t.Fatalf("expected custom cipher suites to win, got %v", cfg.CipherSuites)
	}
}

func TestVersionName(t *testing.T) {
	if versionName(tls.VersionTLS13) != "TLS 1.3" {
		t.Fatalf("unexpected version name for TLS 1.3")
	}
	if versionName(0x9999) != "unknown" {
		t.Fatalf("expected unknown for unrecognized version")
	}
}
