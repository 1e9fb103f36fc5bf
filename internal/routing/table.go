package routing

import (
	"encoding/json"
	"sort"
	"sync/atomic"
)

// Table maps model identifiers to upstream base URLs. Reads are lock-free;
// refreshes swap in a complete new mapping so readers never observe a
// partially updated table.
type Table struct {
	defaultURL string
	routes     atomic.Pointer[map[string]string]
}

// NewTable creates a table that resolves everything to defaultURL until a
// route mapping is installed.
func NewTable(defaultURL string) *Table {
	t := &Table{defaultURL: defaultURL}
	empty := map[string]string{}
	t.routes.Store(&empty)
	return t
}

// Replace installs a complete new mapping.
func (t *Table) Replace(routes map[string]string) {
	if routes == nil {
		routes = map[string]string{}
	}
	t.routes.Store(&routes)
}

// Empty reports whether any routes are configured (single-backend mode).
func (t *Table) Empty() bool {
	return len(*t.routes.Load()) == 0
}

// Backends returns the distinct backend URLs in the table, sorted for
// deterministic fan-out order.
func (t *Table) Backends() []string {
	routes := *t.routes.Load()
	seen := make(map[string]struct{}, len(routes))
	backends := make([]string, 0, len(routes))
	for _, url := range routes {
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		backends = append(backends, url)
	}
	sort.Strings(backends)
	return backends
}

// ResolveBackend picks the backend for a request body. The body is parsed as
// JSON and its "model" field matched against the table. Malformed JSON, a
// missing field or an unknown model all fall back to the default backend.
func (t *Table) ResolveBackend(body []byte) string {
	routes := *t.routes.Load()
	if len(routes) == 0 || len(body) == 0 {
		return t.defaultURL
	}

	var payload struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return t.defaultURL
	}
	if url, ok := routes[payload.Model]; ok && payload.Model != "" {
		return url
	}
	return t.defaultURL
}
