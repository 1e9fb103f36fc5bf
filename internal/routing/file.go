package routing

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type routesFile struct {
	Routes []routeEntry `yaml:"routes"`
}

type routeEntry struct {
	Model      string `yaml:"model"`
	BackendURL string `yaml:"backend_url"`
}

// LoadFile reads the route declaration file. A missing file or an empty list
// yields an empty mapping (single-backend mode), not an error. Duplicate
// models are last-wins. If hostOverride is non-empty, the host portion of
// every backend URL is rewritten, keeping the original port.
func LoadFile(path, hostOverride string) (map[string]string, error) {
	routes := map[string]string{}
	if path == "" {
		return routes, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return routes, nil
		}
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}

	var parsed routesFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse routes file: %w", err)
	}

	for _, entry := range parsed.Routes {
		model := strings.TrimSpace(entry.Model)
		backendURL := strings.TrimSpace(entry.BackendURL)
		if model == "" || backendURL == "" {
			continue
		}
		if hostOverride != "" {
			backendURL = overrideHost(backendURL, hostOverride)
		}
		routes[model] = backendURL
	}

	return routes, nil
}

// overrideHost rewrites only the host portion of a URL, preserving the port.
// Unparsable URLs are returned unchanged and left to fail at connect time.
func overrideHost(raw, host string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if port := u.Port(); port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	return u.String()
}
