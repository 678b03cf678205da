package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/mintforge/mintd/core/mint"
)

// #nosec G101 -- protocol label, not a credential.
const wsAPIKeyProtocol = "mintd-api-key"

// AuthProvider resolves the caller identity for a request.
type AuthProvider interface {
	Authenticate(r *http.Request) (mint.Identity, error)
}

// KeyAuthProvider maps static API keys to caller identities. With no keys
// configured every caller resolves to the anonymous identity; the guard
// layer rejects anonymous callers on privileged operations.
type KeyAuthProvider struct {
	keys map[string]mint.Identity
}

// NewKeyAuthProvider parses "key1=identity1,key2=identity2".
func NewKeyAuthProvider(raw string) (*KeyAuthProvider, error) {
	keys := make(map[string]mint.Identity)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, identity, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		identity = strings.TrimSpace(identity)
		if !ok || key == "" || identity == "" {
			return nil, errors.New("malformed api key entry: want key=identity")
		}
		keys[key] = mint.Identity(identity)
	}
	return &KeyAuthProvider{keys: keys}, nil
}

func (a *KeyAuthProvider) Authenticate(r *http.Request) (mint.Identity, error) {
	key := normalizeAPIKey(r.Header.Get("X-API-Key"))
	if key == "" {
		key = normalizeAPIKey(bearerToken(r))
	}
	if key == "" && websocket.IsWebSocketUpgrade(r) {
		key = normalizeAPIKey(apiKeyFromWebSocket(r))
	}
	if key == "" {
		return mint.Anonymous, nil
	}
	identity, ok := a.keys[key]
	if !ok {
		return "", errors.New("invalid api key")
	}
	return identity, nil
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(raw, "Bearer "); ok {
		return token
	}
	return ""
}

// apiKeyFromWebSocket extracts the key a browser client smuggles through
// the subprotocol list, since it cannot set headers on an upgrade.
func apiKeyFromWebSocket(r *http.Request) string {
	protocols := websocket.Subprotocols(r)
	for i, proto := range protocols {
		if proto == wsAPIKeyProtocol && i+1 < len(protocols) {
			return protocols[i+1]
		}
	}
	return ""
}

func normalizeAPIKey(key string) string {
	return strings.TrimSpace(key)
}
