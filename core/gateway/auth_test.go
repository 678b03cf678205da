package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/mintforge/mintd/core/mint"
)

func TestKeyAuthProviderParsing(t *testing.T) {
	auth, err := NewKeyAuthProvider("k1=alice, k2=bob,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "k1")
	id, err := auth.Authenticate(r)
	if err != nil || id != "alice" {
		t.Fatalf("header key: %v %v", id, err)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer k2")
	id, err = auth.Authenticate(r)
	if err != nil || id != "bob" {
		t.Fatalf("bearer key: %v %v", id, err)
	}

	r = httptest.NewRequest("GET", "/", nil)
	id, err = auth.Authenticate(r)
	if err != nil || !id.IsAnonymous() {
		t.Fatalf("no key must resolve anonymous: %v %v", id, err)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "unknown")
	if _, err := auth.Authenticate(r); err == nil {
		t.Fatalf("unknown key must be rejected")
	}
}

func TestKeyAuthProviderRejectsMalformed(t *testing.T) {
	if _, err := NewKeyAuthProvider("justakey"); err == nil {
		t.Fatalf("entry without identity must be rejected")
	}
	if _, err := NewKeyAuthProvider("=identity"); err == nil {
		t.Fatalf("entry without key must be rejected")
	}
}

func TestWebSocketSubprotocolKey(t *testing.T) {
	auth, err := NewKeyAuthProvider("k1=alice")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := httptest.NewRequest("GET", "/v1/events", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Sec-Websocket-Protocol", wsAPIKeyProtocol+", k1")
	id, err := auth.Authenticate(r)
	if err != nil || id != mint.Identity("alice") {
		t.Fatalf("subprotocol key: %v %v", id, err)
	}
}
