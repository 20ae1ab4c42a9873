// Package media owns the opaque ref scheme the rest of the system passes
// around. A ref is "scheme:rest"; each scheme belongs to one resolver
// (channel adapters register theirs, the blob cache and plain URLs are
// built in). Nothing outside this package and the channel adapters ever
// dereferences a ref.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
)

// Ref builds a scheme-prefixed media ref.
func Ref(scheme, rest string) string {
	return scheme + ":" + rest
}

// Split breaks a ref into scheme and rest.
func Split(ref string) (scheme, rest string, err error) {
	i := strings.Index(ref, ":")
	if i <= 0 {
		return "", "", fmt.Errorf("malformed media ref %q", ref)
	}
	return ref[:i], ref[i+1:], nil
}

// Registry routes refs to the resolver owning their scheme.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]domain.MediaResolver
	client    *http.Client
}

func NewRegistry() *Registry {
	return &Registry{
		resolvers: make(map[string]domain.MediaResolver),
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Register binds a scheme (e.g. "telegram") to its owning resolver.
func (r *Registry) Register(scheme string, resolver domain.MediaResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[scheme] = resolver
}

// Resolve dereferences a ref. "url:" refs are fetched directly; everything
// else goes to the registered owner.
func (r *Registry) Resolve(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	scheme, rest, err := Split(ref)
	if err != nil {
		return nil, "", err
	}

	if scheme == "url" {
		return r.fetchURL(ctx, rest)
	}

	r.mu.RLock()
	resolver, ok := r.resolvers[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("no resolver for media scheme %q", scheme)
	}
	return resolver.Resolve(ctx, ref)
}

// Release discards the resource behind a ref once its reply has been
// delivered. Only schemes whose resolver supports removal (the blob cache)
// do anything; platform and url refs are not ours to delete.
func (r *Registry) Release(ref string) {
	scheme, _, err := Split(ref)
	if err != nil {
		return
	}

	r.mu.RLock()
	resolver, ok := r.resolvers[scheme]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if remover, ok := resolver.(interface{ Remove(ref string) }); ok {
		remover.Remove(ref)
	}
}

func (r *Registry) fetchURL(ctx context.Context, url string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media url: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch media url: status %d", resp.StatusCode)
	}

	name := url
	if i := strings.LastIndex(url, "/"); i >= 0 && i < len(url)-1 {
		name = url[i+1:]
	}
	return resp.Body, name, nil
}
