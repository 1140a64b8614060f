package httpx

import (
	"context"
	"encoding/hex"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if _, ok := RequestIDFrom(ctx); ok {
		t.Fatal("empty context has a request ID")
	}
	ctx = withRemoteAddr(WithCorrelationID(WithRequestID(ctx, "r1"), ""), "10.0.0.1:5000")
	if id, ok := RequestIDFrom(ctx); !ok || id != "r1" {
		t.Fatalf("request id=%q ok=%v", id, ok)
	}
	if _, ok := CorrelationIDFrom(ctx); ok {
		t.Fatal("empty correlation ID reported as present")
	}
	if a, ok := RemoteAddrFrom(ctx); !ok || a != "10.0.0.1:5000" {
		t.Fatalf("remote=%q ok=%v", a, ok)
	}
}

func TestGenID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := genID()
		if b, err := hex.DecodeString(id); err != nil || len(b) != 16 {
			t.Fatalf("genID()=%q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
