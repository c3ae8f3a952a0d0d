// Package acl exposes the request-host allow/deny check the reply context's
// external access checklist consults before a reply reaches the client:
// denylisted hosts are never served, cached or not.
package acl

import (
	"net/url"

	"github.com/cachegate/cachegate/internal/filtering"
)

// List wraps a policy engine scoped to request hostnames: the suffix-trie
// matching a blocklist needs is the same whether the thing being matched is
// a CONNECT authority or a DNS query name, so the engine is reused as-is.
type List struct {
	engine *filtering.PolicyEngine
}

// New builds a List from a policy engine configuration, accepting the same
// remote blocklists and explicit allow/deny entries the engine itself
// supports.
func New(cfg filtering.PolicyEngineConfig) *List {
	return &List{engine: filtering.NewPolicyEngine(cfg)}
}

// NewFromEngine wraps an already-constructed policy engine, so a caller that
// needs the same engine instance shared across more than one consumer (the
// reply path's ACL check and the admin API's filtering endpoints) can build
// it once and hand it to both.
func NewFromEngine(engine *filtering.PolicyEngine) *List {
	return &List{engine: engine}
}

// Allowed reports whether host may be fetched/served at all.
func (l *List) Allowed(host string) bool {
	if l == nil || l.engine == nil {
		return true
	}
	result := l.engine.Evaluate(host)
	return result.Action != filtering.ActionBlock
}

// AllowedURL is a convenience wrapper extracting the host from a URL string
// before evaluating it, for callers that only have the full request URL
// (as the client driver does) rather than an already-parsed host.
func (l *List) AllowedURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return l.Allowed(u.Hostname())
}

// Engine returns the underlying policy engine, so a caller that also wants
// read/write access to whitelist, blacklist, and blocklist state (the admin
// API) can share the exact instance the reply path consults rather than
// running a second, divergent copy.
func (l *List) Engine() *filtering.PolicyEngine {
	if l == nil {
		return nil
	}
	return l.engine
}

// AddDeny adds a host to the denylist at runtime, e.g. from an admin API
// call.
func (l *List) AddDeny(host string) {
	l.engine.AddToBlacklist(host)
}

// RemoveDeny removes a host from the denylist at runtime.
func (l *List) RemoveDeny(host string) {
	l.engine.RemoveFromBlacklist(host)
}

// Close releases the underlying policy engine's background refresh loop,
// if one is running.
func (l *List) Close() error {
	return l.engine.Close()
}
