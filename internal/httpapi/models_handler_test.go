package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dDraxb/Llamaserve/internal/routing"
)

func modelsServer(marker string, ids ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != modelsListPath {
			http.NotFound(w, r)
			return
		}
		items := make([]map[string]string, 0, len(ids))
		for _, id := range ids {
			items = append(items, map[string]string{
				"id":       id,
				"object":   "model",
				"owned_by": marker,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": items})
	}))
}

type modelItem struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by"`
}

func decodeModelList(t *testing.T, body []byte) []modelItem {
	t.Helper()
	var listing struct {
		Object string      `json:"object"`
		Data   []modelItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	assert.Equal(t, "list", listing.Object)
	return listing.Data
}

func TestModelsAggregateDedupes(t *testing.T) {
	first := modelsServer("one", "llama-3-8b", "shared")
	defer first.Close()
	second := modelsServer("two", "llama-3-70b", "shared")
	defer second.Close()

	table := routing.NewTable("http://unused.invalid")
	table.Replace(map[string]string{
		"llama-3-8b":  first.URL,
		"llama-3-70b": second.URL,
	})

	proxy := newTestProxy(ProxyConfig{Routes: table})

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, authedRequest(http.MethodGet, modelsListPath, "", "alice"))
	require.Equal(t, http.StatusOK, rec.Code)

	items := decodeModelList(t, rec.Body.Bytes())
	require.Len(t, items, 3)

	byID := make(map[string]modelItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	assert.Contains(t, byID, "llama-3-8b")
	assert.Contains(t, byID, "llama-3-70b")
	require.Contains(t, byID, "shared")

	// Backends are queried in sorted URL order and the first occurrence of a
	// duplicate id wins.
	urls := []string{first.URL, second.URL}
	markers := map[string]string{first.URL: "one", second.URL: "two"}
	sort.Strings(urls)
	assert.Equal(t, markers[urls[0]], byID["shared"].OwnedBy)
}

func TestModelsAggregateSkipsFailedBackend(t *testing.T) {
	healthy := modelsServer("one", "llama-3-8b")
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	table := routing.NewTable("http://unused.invalid")
	table.Replace(map[string]string{
		"llama-3-8b": healthy.URL,
		"broken":     broken.URL,
	})

	proxy := newTestProxy(ProxyConfig{Routes: table})

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, authedRequest(http.MethodGet, modelsListPath, "", "alice"))

	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeModelList(t, rec.Body.Bytes())
	require.Len(t, items, 1)
	assert.Equal(t, "llama-3-8b", items[0].ID)
}

func TestModelsAggregateAllBackendsDown(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	broken.Close()

	table := routing.NewTable("http://unused.invalid")
	table.Replace(map[string]string{"llama-3-8b": broken.URL})

	proxy := newTestProxy(ProxyConfig{Routes: table})

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, authedRequest(http.MethodGet, modelsListPath, "", "alice"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeModelList(t, rec.Body.Bytes()))
}

func TestModelsAggregateUnaccountedByDefault(t *testing.T) {
	backend := modelsServer("one", "llama-3-8b")
	defer backend.Close()

	table := routing.NewTable("http://unused.invalid")
	table.Replace(map[string]string{"llama-3-8b": backend.URL})

	ledger := &fakeLedger{}
	limiter := &fakeLimiter{limited: true}
	proxy := newTestProxy(ProxyConfig{
		Routes:  table,
		Limiter: limiter,
		Ledger:  ledger,
	})

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, authedRequest(http.MethodGet, modelsListPath, "", "alice"))

	assert.Equal(t, http.StatusOK, rec.Code, "default aggregation bypasses the rate limit")
	assert.Zero(t, limiter.calls)
	assert.Empty(t, ledger.all())
}

func TestModelsAggregateAccounted(t *testing.T) {
	backend := modelsServer("one", "llama-3-8b")
	defer backend.Close()

	table := routing.NewTable("http://unused.invalid")
	table.Replace(map[string]string{"llama-3-8b": backend.URL})

	ledger := &fakeLedger{}
	proxy := newTestProxy(ProxyConfig{
		AccountModelsList: true,
		Routes:            table,
		Ledger:            ledger,
	})

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, authedRequest(http.MethodGet, modelsListPath, "", "alice"))
	require.Equal(t, http.StatusOK, rec.Code)

	records := ledger.all()
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusOK, records[0].StatusCode)
	assert.Equal(t, modelsListPath, records[0].Path)
	assert.Equal(t, int64(rec.Body.Len()), records[0].ResponseBytes)
}

func TestModelsAggregateAccountedRateLimited(t *testing.T) {
	backend := modelsServer("one", "llama-3-8b")
	defer backend.Close()

	table := routing.NewTable("http://unused.invalid")
	table.Replace(map[string]string{"llama-3-8b": backend.URL})

	ledger := &fakeLedger{}
	proxy := newTestProxy(ProxyConfig{
		AccountModelsList: true,
		Routes:            table,
		Limiter:           &fakeLimiter{limited: true},
		Ledger:            ledger,
	})

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, authedRequest(http.MethodGet, modelsListPath, "", "alice"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	records := ledger.all()
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusTooManyRequests, records[0].StatusCode)
}

func TestModelsPathProxiedWhenTableEmpty(t *testing.T) {
	backend := modelsServer("one", "llama-3-8b")
	defer backend.Close()

	ledger := &fakeLedger{}
	proxy := newTestProxy(ProxyConfig{
		Routes: routing.NewTable(backend.URL),
		Ledger: ledger,
	})

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, authedRequest(http.MethodGet, modelsListPath, "", "alice"))

	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeModelList(t, rec.Body.Bytes())
	require.Len(t, items, 1)
	assert.Equal(t, "llama-3-8b", items[0].ID)

	// Single-backend mode has no special case: the request is a normal
	// proxied request and lands in the ledger.
	require.Len(t, ledger.all(), 1)
}
