// Package connectortest provides test doubles for the connector package.
package connectortest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flemzord/cadence/internal/connector"
)

// Mock is a configurable connector.Connector. Unset funcs succeed with
// zero values.
type Mock struct {
	Name         string
	ExchangeFunc func(ctx context.Context, code, redirectURI string) (connector.TokenResult, error)
	RefreshFunc  func(ctx context.Context, tok connector.Token) (connector.TokenResult, error)
	PostFunc     func(ctx context.Context, tok connector.Token, content json.RawMessage) (connector.PostResult, error)

	mu        sync.Mutex
	refreshes []connector.Token
	posts     []json.RawMessage
}

// Compile-time interface check.
var _ connector.Connector = (*Mock)(nil)

// Platform implements connector.Connector.
func (m *Mock) Platform() string { return m.Name }

// AuthCodeURL implements connector.Connector.
func (m *Mock) AuthCodeURL(state, redirectURI string) string {
	return "https://auth.example/" + m.Name + "?state=" + state + "&redirect_uri=" + redirectURI
}

// ExchangeCode implements connector.Connector.
func (m *Mock) ExchangeCode(ctx context.Context, code, redirectURI string) (connector.TokenResult, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, code, redirectURI)
	}
	return connector.TokenResult{AccessToken: "access-" + code}, nil
}

// Refresh implements connector.Connector and records the call.
func (m *Mock) Refresh(ctx context.Context, tok connector.Token) (connector.TokenResult, error) {
	m.mu.Lock()
	m.refreshes = append(m.refreshes, tok)
	m.mu.Unlock()
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, tok)
	}
	return connector.TokenResult{AccessToken: "refreshed"}, nil
}

// Post implements connector.Connector and records the content.
func (m *Mock) Post(ctx context.Context, tok connector.Token, content json.RawMessage) (connector.PostResult, error) {
	m.mu.Lock()
	m.posts = append(m.posts, content)
	m.mu.Unlock()
	if m.PostFunc != nil {
		return m.PostFunc(ctx, tok, content)
	}
	return connector.PostResult{PlatformPostID: "post-1"}, nil
}

// RefreshCount returns how many times Refresh was called.
func (m *Mock) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refreshes)
}

// Refreshes returns the tokens Refresh was called with.
func (m *Mock) Refreshes() []connector.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]connector.Token, len(m.refreshes))
	copy(out, m.refreshes)
	return out
}

// Posts returns the content passed to Post.
func (m *Mock) Posts() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]json.RawMessage, len(m.posts))
	copy(out, m.posts)
	return out
}
