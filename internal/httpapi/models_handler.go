package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// modelsListPath is the OpenAI-compatible model listing endpoint. With a
// non-empty route table it is answered by the proxy itself, merging the
// listings of every distinct backend.
const modelsListPath = "/v1/models"

const modelsFetchTimeout = 30 * time.Second

// backendModelsResult is one backend's fetch outcome. Failed backends are
// skipped during aggregation; the merged listing never fails as a whole.
type backendModelsResult struct {
	backend string
	items   []json.RawMessage
	err     error
}

// serveModelsAggregate merges /v1/models across all routed backends,
// deduplicating by model id with the first occurrence winning. By default
// the aggregate is served without rate limiting or a ledger record; the
// accounted mode treats it like any proxied request.
func (h *ProxyHandler) serveModelsAggregate(w http.ResponseWriter, r *http.Request, username string, requestBytes int64, log *logrus.Entry) {
	if h.accountModelsList {
		limited, err := h.limiter.IsLimited(r.Context(), username)
		if err != nil {
			log.WithError(err).Error("Rate limiter unavailable")
			writeJSONError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
			return
		}
		if limited {
			h.metrics.RecordRateLimited()
			h.record(r.Method, r.URL.Path, username, http.StatusTooManyRequests, 0, requestBytes, 0, log)
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	start := time.Now()

	seen := make(map[string]struct{})
	data := make([]json.RawMessage, 0)
	for _, result := range h.fetchBackendModels(r.Context()) {
		if result.err != nil {
			log.WithError(result.err).WithField("backend", result.backend).
				Debug("Skipping backend in model listing")
			continue
		}
		for _, item := range result.items {
			var meta struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(item, &meta); err != nil || meta.ID == "" {
				continue
			}
			if _, dup := seen[meta.ID]; dup {
				continue
			}
			seen[meta.ID] = struct{}{}
			data = append(data, item)
		}
	}

	payload, err := json.Marshal(map[string]any{
		"object": "list",
		"data":   data,
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode model list")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)

	if h.accountModelsList {
		h.record(r.Method, r.URL.Path, username, http.StatusOK,
			time.Since(start), requestBytes, int64(len(payload)), log)
	}
}

func (h *ProxyHandler) fetchBackendModels(ctx context.Context) []backendModelsResult {
	backends := h.routes.Backends()
	results := make([]backendModelsResult, 0, len(backends))
	for _, backend := range backends {
		results = append(results, h.fetchModels(ctx, backend))
	}
	return results
}

// fetchModels lists one backend's models. Any failure, including a non-200
// status or an undecodable body, is reported in the result rather than
// returned, so a dead backend only thins the aggregate.
func (h *ProxyHandler) fetchModels(ctx context.Context, backend string) backendModelsResult {
	result := backendModelsResult{backend: backend}

	ctx, cancel := context.WithTimeout(ctx, modelsFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(backend, "/")+modelsListPath, nil)
	if err != nil {
		result.err = err
		return result
	}
	if h.backendKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.backendKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		result.err = err
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.err = fmt.Errorf("backend returned status %d", resp.StatusCode)
		return result
	}

	var listing struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		result.err = err
		return result
	}

	result.items = listing.Data
	return result
}
