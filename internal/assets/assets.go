// Package assets resolves local-scheme urls to bundled pages under an asset root.
package assets

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"pkt.systems/quasar/schema"
)

// Resolver maps "<scheme>://<path>" to files inside root.
type Resolver struct {
	root   string
	scheme string
}

// NewResolver constructs a resolver. An empty root denies every local url.
func NewResolver(root, scheme string) (*Resolver, error) {
	scheme = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(scheme)), "://")
	if scheme == "" {
		scheme = schema.DefaultLocalScheme
	}
	if strings.TrimSpace(root) == "" {
		return &Resolver{scheme: scheme}, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("asset root: %w", err)
	}
	return &Resolver{root: filepath.Clean(abs), scheme: scheme}, nil
}

// Root returns the absolute asset root.
func (r *Resolver) Root() string { return r.root }

// Scheme returns the local scheme without the "://" suffix.
func (r *Resolver) Scheme() string { return r.scheme }

// IsLocal reports whether raw addresses the local scheme.
func (r *Resolver) IsLocal(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), r.scheme+"://")
}

// Resolve returns the file path a local url refers to. Paths that resolve
// outside the root fail with ErrAccessDenied.
func (r *Resolver) Resolve(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !r.IsLocal(raw) {
		return "", fmt.Errorf("not a %s url: %w", r.scheme, schema.ErrInvalidRequest)
	}
	if r.root == "" {
		return "", fmt.Errorf("no asset root configured: %w", schema.ErrAccessDenied)
	}
	rest := raw[len(r.scheme)+len("://"):]
	if idx := strings.IndexAny(rest, "?#"); idx >= 0 {
		rest = rest[:idx]
	}
	unescaped, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("local path: %w", schema.ErrInvalidRequest)
	}
	candidate := filepath.Join(r.root, filepath.FromSlash(unescaped))
	rel, err := filepath.Rel(r.root, candidate)
	if err != nil {
		return "", fmt.Errorf("local path %q: %w", unescaped, schema.ErrAccessDenied)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("local path %q: %w", unescaped, schema.ErrAccessDenied)
	}
	resolved, err := securejoin.SecureJoin(r.root, rel)
	if err != nil {
		return "", fmt.Errorf("local path %q: %w", unescaped, schema.ErrAccessDenied)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("local page %q: %w", unescaped, err)
	}
	if info.IsDir() {
		index := filepath.Join(resolved, "index.html")
		if _, err := os.Stat(index); err != nil {
			return "", fmt.Errorf("local page %q: %w", unescaped, err)
		}
		return index, nil
	}
	return resolved, nil
}
