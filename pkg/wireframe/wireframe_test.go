package wireframe

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuilderPortBigEndian(t *testing.T) {
	got := NewBuilder(2).Port(0x1F90).Build() // 8080
	want := []byte{0x1F, 0x90}
	if !bytes.Equal(got, want) {
		t.Fatalf("Port() = %x, want %x", got, want)
	}
}

func TestBuilderNullTerminated(t *testing.T) {
	got := NewBuilder(0).NullTerminated("root").Build()
	want := []byte{'r', 'o', 'o', 't', 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("NullTerminated() = %x, want %x", got, want)
	}
}

func TestEncodeAddressIPv4(t *testing.T) {
	b := NewBuilder(0)
	atyp, err := b.EncodeAddress("192.168.1.1")
	if err != nil {
		t.Fatal(err)
	}
	if atyp != AddrIPv4 {
		t.Fatalf("expected AddrIPv4, got %v", atyp)
	}
	want := []byte{byte(AddrIPv4), 192, 168, 1, 1}
	if !bytes.Equal(b.Build(), want) {
		t.Fatalf("frame = %x, want %x", b.Build(), want)
	}
}

func TestEncodeAddressIPv6(t *testing.T) {
	b := NewBuilder(0)
	atyp, err := b.EncodeAddress("::1")
	if err != nil {
		t.Fatal(err)
	}
	if atyp != AddrIPv6 {
		t.Fatalf("expected AddrIPv6, got %v", atyp)
	}
	if len(b.Build()) != 1+16 {
		t.Fatalf("expected 17 bytes, got %d", len(b.Build()))
	}
}

func TestEncodeAddressDomain(t *testing.T) {
	b := NewBuilder(0)
	atyp, err := b.EncodeAddress("example.com")
	if err != nil {
		t.Fatal(err)
	}
	if atyp != AddrDomain {
		t.Fatalf("expected AddrDomain, got %v", atyp)
	}
	frame := b.Build()
	if frame[0] != byte(AddrDomain) || frame[1] != byte(len("example.com")) {
		t.Fatalf("unexpected domain frame header: %x", frame[:2])
	}
	if string(frame[2:]) != "example.com" {
		t.Fatalf("unexpected domain bytes: %q", frame[2:])
	}
}

func TestEncodeAddressDomainTooLong(t *testing.T) {
	b := NewBuilder(0)
	_, err := b.EncodeAddress(strings.Repeat("a", 256) + ".com")
	if err == nil {
		t.Fatal("expected error for domain name exceeding 255 bytes")
	}
}

func TestHexDumpEmpty(t *testing.T) {
	if HexDump(nil) != "(empty)" {
		t.Fatalf("expected (empty) placeholder")
	}
}

func TestHexDumpLayout(t *testing.T) {
	out := HexDump([]byte{0x05, 0x00, 0x01, 0x7f, 0x00, 0x00, 0x01})
	if !strings.HasPrefix(out, "0000  ") {
		t.Fatalf("expected offset prefix, got %q", out)
	}
	if !strings.Contains(out, "05 00 01") {
		t.Fatalf("expected hex bytes present, got %q", out)
	}
}

func TestParsePort(t *testing.T) {
	if got := ParsePort([]byte{0x1F, 0x90}); got != 8080 {
		t.Fatalf("ParsePort = %d, want 8080", got)
	}
}
