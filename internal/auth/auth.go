// Package auth owns the bearer credential: it is loaded once at startup,
// handed explicitly to every service that needs it, and cleared on logout.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ErrNotAuthenticated is returned by RequireToken when no credential is held.
var ErrNotAuthenticated = errors.New("auth: not logged in")

// Context holds the current bearer credential. It is safe for concurrent use.
type Context struct {
	store Store

	mu    sync.RWMutex
	token string
}

// Load builds a Context from the credential persisted in store.
func Load(ctx context.Context, store Store) (*Context, error) {
	if store == nil {
		return nil, fmt.Errorf("auth: store is required")
	}
	token, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &Context{store: store, token: strings.TrimSpace(token)}, nil
}

// Token returns the current credential, or "" when logged out.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Authenticated reports whether a credential is held.
func (c *Context) Authenticated() bool {
	return c.Token() != ""
}

// RequireToken returns the credential or ErrNotAuthenticated.
func (c *Context) RequireToken() (string, error) {
	tok := c.Token()
	if tok == "" {
		return "", ErrNotAuthenticated
	}
	return tok, nil
}

// Set stores a freshly issued credential in memory and in the store.
func (c *Context) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("auth: empty token")
	}
	if err := c.store.Save(ctx, token); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// Logout forgets the credential. The in-memory token is dropped even when
// the store fails to clear.
func (c *Context) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return c.store.Clear(ctx)
}

// Authorize adds "Authorization: Bearer <token>" to req when a credential
// is held; anonymous requests are left untouched.
func (c *Context) Authorize(req *http.Request) {
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}
