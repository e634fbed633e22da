package proxypay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// EndpointID derives the stable account identifier for a proxy URL. Distinct
// URLs are not formally guaranteed distinct IDs; this is a lookup key, not a
// security boundary. Duplicate configured URLs therefore share one account.
func EndpointID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "proxy_" + hex.EncodeToString(sum[:16])
}

// SkippedEntry reports one additional-proxy line that was not usable.
type SkippedEntry struct {
	Line   int
	Text   string
	Reason string
}

// ParseEndpoints builds the ordered endpoint list from settings. The primary
// endpoint is always index 0, even when the additional list is empty.
// Additional entries are one "URL|API_KEY" per line; lines that are blank,
// lack the separator, or have an empty URL or key after trimming are skipped
// and reported rather than silently dropped.
func ParseEndpoints(settings Settings) ([]ProxyEndpoint, []SkippedEntry) {
	endpoints := []ProxyEndpoint{{
		URL:    settings.ProxyURL,
		APIKey: settings.APIKey,
	}}

	var skipped []SkippedEntry
	if settings.AdditionalProxies == "" {
		return endpoints, nil
	}

	lines := strings.Split(settings.AdditionalProxies, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			skipped = append(skipped, SkippedEntry{
				Line:   i + 1,
				Text:   line,
				Reason: "missing '|' separator",
			})
			continue
		}
		url := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if url == "" || key == "" {
			skipped = append(skipped, SkippedEntry{
				Line:   i + 1,
				Text:   line,
				Reason: "empty url or api key",
			})
			continue
		}
		endpoints = append(endpoints, ProxyEndpoint{URL: url, APIKey: key})
	}

	return endpoints, skipped
}

// Registry exposes the configured proxy endpoints. It re-reads settings on
// every call, so configuration changes are visible immediately.
type Registry struct {
	source SettingsSource
}

// NewRegistry creates a registry over the given settings source.
func NewRegistry(source SettingsSource) *Registry {
	return &Registry{source: source}
}

// Endpoints returns the current ordered endpoint list.
func (r *Registry) Endpoints() []ProxyEndpoint {
	endpoints, _ := ParseEndpoints(r.source.Settings())
	return endpoints
}

// EndpointsWithSkipped returns the endpoint list plus any skipped
// additional-proxy lines, for operator-facing diagnostics.
func (r *Registry) EndpointsWithSkipped() ([]ProxyEndpoint, []SkippedEntry) {
	return ParseEndpoints(r.source.Settings())
}

// Endpoint returns the endpoint at index. Fails with index_out_of_range when
// the index does not resolve against the current configuration.
func (r *Registry) Endpoint(index int) (ProxyEndpoint, error) {
	endpoints := r.Endpoints()
	if index < 0 || index >= len(endpoints) {
		return ProxyEndpoint{}, NewProxyError(ErrCodeIndexOutOfRange,
			fmt.Sprintf("proxy index %d out of range (%d configured)", index, len(endpoints)), nil)
	}
	return endpoints[index], nil
}

// Count returns the number of configured endpoints.
func (r *Registry) Count() int {
	return len(r.Endpoints())
}
