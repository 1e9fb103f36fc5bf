package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dDraxb/Llamaserve/internal/metrics"
	"github.com/dDraxb/Llamaserve/internal/models"
	"github.com/dDraxb/Llamaserve/internal/ratelimit"
	"github.com/dDraxb/Llamaserve/internal/routing"
)

// UsageLedger is the write side of the usage ledger.
type UsageLedger interface {
	Insert(ctx context.Context, rec *models.UsageRecord) error
}

// ProxyHandler is the request pipeline behind the auth middleware:
// resolve route, check the rate limit, forward upstream and stream the
// response back, then append exactly one usage record.
//
// Flow per request:
//  1. Read the full body (needed for the routing key and the byte count)
//  2. Strip hop-by-hop headers, inject x-llama-user, swap the credential
//  3. Aggregate /v1/models across backends when routing is enabled
//  4. Resolve the backend from the body's "model" field
//  5. Rate limit (rejections are logged with 429 and never reach upstream)
//  6. Forward with a single attempt; connect failure logs 502
//  7. Stream the response unbuffered, counting bytes chunk by chunk
//  8. Write the usage record when the stream ends, then release the upstream
type ProxyHandler struct {
	backendKey        string
	accountModelsList bool

	routes  *routing.Table
	limiter ratelimit.Limiter
	ledger  UsageLedger
	metrics *metrics.Metrics
	client  *http.Client
	log     *logrus.Entry
}

// ProxyConfig carries the pipeline's collaborators.
type ProxyConfig struct {
	BackendAPIKey     string
	AccountModelsList bool

	Routes  *routing.Table
	Limiter ratelimit.Limiter
	Ledger  UsageLedger
	Metrics *metrics.Metrics
	Logger  *logrus.Logger

	// Client is optional; the default has no overall timeout so that long
	// streaming responses are never cut off mid-flight.
	Client *http.Client
}

// NewProxyHandler creates the pipeline handler.
func NewProxyHandler(cfg ProxyConfig) *ProxyHandler {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &ProxyHandler{
		backendKey:        cfg.BackendAPIKey,
		accountModelsList: cfg.AccountModelsList,
		routes:            cfg.Routes,
		limiter:           cfg.Limiter,
		ledger:            cfg.Ledger,
		metrics:           cfg.Metrics,
		client:            client,
		log:               cfg.Logger.WithField("component", "proxy"),
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		// Only reachable if the handler is wired without the auth middleware.
		writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	log := h.log.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"user":       identity.Username,
		"method":     r.Method,
		"path":       r.URL.Path,
	})

	// The body is read fully: the routing key lives in it and the ledger
	// needs its size. Only the response is streamed.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	requestBytes := int64(len(body))

	if !h.routes.Empty() && r.URL.Path == modelsListPath {
		h.serveModelsAggregate(w, r, identity.Username, requestBytes, log)
		return
	}

	headers := filterHeaders(r.Header)
	headers.Set("x-llama-user", identity.Username)
	if h.backendKey != "" {
		headers.Set("Authorization", "Bearer "+h.backendKey)
	} else {
		// Never forward the client's own token upstream.
		headers.Del("Authorization")
	}

	backend := h.routes.ResolveBackend(body)
	target := strings.TrimRight(backend, "/") + r.URL.EscapedPath()

	limited, err := h.limiter.IsLimited(r.Context(), identity.Username)
	if err != nil {
		log.WithError(err).Error("Rate limiter unavailable")
		writeJSONError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
		return
	}
	if limited {
		h.metrics.RecordRateLimited()
		h.record(r.Method, r.URL.Path, identity.Username, http.StatusTooManyRequests, 0, requestBytes, 0, log)
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	h.forward(w, r, identity.Username, target, headers, body, requestBytes, log)
}

// forward issues the single upstream attempt and streams the response.
func (h *ProxyHandler) forward(
	w http.ResponseWriter,
	r *http.Request,
	username string,
	target string,
	headers http.Header,
	body []byte,
	requestBytes int64,
	log *logrus.Entry,
) {
	start := time.Now()

	upReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		h.upstreamFailed(w, r, username, requestBytes, err, log)
		return
	}
	upReq.Header = headers
	upReq.URL.RawQuery = r.URL.RawQuery

	resp, err := h.client.Do(upReq)
	if err != nil {
		h.upstreamFailed(w, r, username, requestBytes, err, log)
		return
	}

	// Exactly one ledger record per forwarded request, written when the
	// stream ends for any reason: completion, upstream failure mid-stream,
	// or client disconnect. Log first, then release the upstream.
	responseBytes := int64(0)
	defer func() {
		h.record(r.Method, r.URL.Path, username, resp.StatusCode,
			time.Since(start), requestBytes, responseBytes, log)
		resp.Body.Close()
	}()

	copyFilteredHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			responseBytes += int64(n)
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away; counts and duration up to here are kept.
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				log.WithError(readErr).Debug("Upstream stream ended early")
			}
			break
		}
	}
}

func (h *ProxyHandler) upstreamFailed(w http.ResponseWriter, r *http.Request, username string, requestBytes int64, err error, log *logrus.Entry) {
	log.WithError(err).Warn("Upstream connection failed")
	h.metrics.RecordUpstreamError()
	h.record(r.Method, r.URL.Path, username, http.StatusBadGateway, 0, requestBytes, 0, log)
	writeJSONError(w, http.StatusBadGateway, "upstream connection failed")
}

// record appends one usage record and emits telemetry. The write runs on a
// detached context: the client may already be gone by the time the stream
// finishes, and the record must land regardless.
func (h *ProxyHandler) record(
	method, path, username string,
	status int,
	duration time.Duration,
	requestBytes, responseBytes int64,
	log *logrus.Entry,
) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &models.UsageRecord{
		Username:      username,
		Path:          path,
		StatusCode:    status,
		DurationMS:    duration.Milliseconds(),
		RequestBytes:  requestBytes,
		ResponseBytes: responseBytes,
	}
	if err := h.ledger.Insert(ctx, rec); err != nil {
		log.WithError(err).Warn("Failed to write usage record")
	}

	h.metrics.ObserveRequest(method, status, duration, requestBytes, responseBytes)

	log.WithFields(logrus.Fields{
		"status":         status,
		"duration_ms":    duration.Milliseconds(),
		"request_bytes":  requestBytes,
		"response_bytes": responseBytes,
	}).Info("Request completed")
}
