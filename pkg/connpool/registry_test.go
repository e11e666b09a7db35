package connpool

import (
	"context"
	"net"
	"testing"
)

func TestRegistrySeparatesPlainAndTLSKeys(t *testing.T) {
	var dials []HostKey
	reg := NewRegistry(1, 0, 0, func(ctx context.Context, key HostKey) (net.Conn, error) {
		dials = append(dials, key)
		c1, _ := net.Pipe()
		return c1, nil
	})

	plain := HostKey{Host: "example.com", Port: 80, TLS: false}
	secure := HostKey{Host: "example.com", Port: 443, TLS: true}

	_, release1, err := reg.Acquire(context.Background(), plain)
	if err != nil {
		t.Fatal(err)
	}
	defer release1()

	_, release2, err := reg.Acquire(context.Background(), secure)
	if err != nil {
		t.Fatal(err)
	}
	defer release2()

	if len(dials) != 2 {
		t.Fatalf("expected two distinct pools to be dialed, got %d", len(dials))
	}
}

func TestRegistryReusesPoolForSameKey(t *testing.T) {
	dialCount := 0
	reg := NewRegistry(1, 0, 0, func(ctx context.Context, key HostKey) (net.Conn, error) {
		dialCount++
		c1, _ := net.Pipe()
		return c1, nil
	})

	key := HostKey{Host: "example.com", Port: 80}
	_, release1, err := reg.Acquire(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	release1()

	_, release2, err := reg.Acquire(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	release2()

	if dialCount != 1 {
		t.Fatalf("expected the tunnel to be reused, dial called %d times", dialCount)
	}
}

func TestHostKeyStringIncludesScheme(t *testing.T) {
	plain := HostKey{Host: "h", Port: 80}.String()
	tlsKey := HostKey{Host: "h", Port: 443, TLS: true}.String()
	if plain == tlsKey {
		t.Fatalf("expected distinct string forms, got %q for both", plain)
	}
}
