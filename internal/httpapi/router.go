// Package httpapi serves the reference chain service: record lookups over
// HTTP and location pushes over WebSocket.
package httpapi

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/freeeve/lineage/internal/records"
)

const recordPrefix = "/dark-jedis/"

// RouterConfig wires the HTTP side of the chain service.
type RouterConfig struct {
	Logger      zerolog.Logger
	Repo        records.Repository
	Broadcaster *Broadcaster        // optional; reported in /v1/stats
	Gatherer    prometheus.Gatherer // optional; enables /metrics
	Metrics     *Metrics            // optional
	PublicURL   string              // base for neighbor links; default from the request Host
	Latency     time.Duration       // artificial delay before record lookups
	Pprof       bool
}

// Handler serves record lookups from a repository.
type Handler struct {
	repo    records.Repository
	bc      *Broadcaster
	log     zerolog.Logger
	public  string
	started time.Time
}

// NewRouter creates the chain service router.
func NewRouter(cfg RouterConfig) http.Handler {
	h := &Handler{
		repo:    cfg.Repo,
		bc:      cfg.Broadcaster,
		log:     cfg.Logger,
		public:  cfg.PublicURL,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(h.health))
	mux.Handle("/readyz", http.HandlerFunc(h.ready))
	mux.Handle(recordPrefix, http.HandlerFunc(h.record))
	mux.Handle("/v1/stats", http.HandlerFunc(h.stats))
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if cfg.Latency > 0 {
		cfg.Logger.Info().Dur("latency", cfg.Latency).Msg("artificial record latency enabled")
	}

	handler := CORS(RequestID(AccessLog(cfg.Logger, cfg.Metrics, Latency(cfg.Latency, mux))))
	return gzhttp.GzipHandler(handler)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.Len(r.Context())
	if err != nil || n == 0 {
		http.Error(w, "roster not loaded", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := splitPath(r.URL.Path)
	if len(parts) != 2 {
		http.Error(w, "missing record id", http.StatusBadRequest)
		return
	}
	id := parts[1]

	rec, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("record lookup failed")
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, ToRecordResponse(rec, h.baseURL(r)))
}

func (h *Handler) baseURL(r *http.Request) string {
	if h.public != "" {
		return h.public
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.ToLower(fwd)
	}
	return scheme + "://" + r.Host
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.Len(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("count records")
	}
	out := map[string]any{
		"records":        n,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.bc != nil {
		st := h.bc.Stats()
		out["subscribers"] = st.Subscribers
		out["pushes"] = st.Pushes
		out["location"] = st.Current
	}
	writeJSON(w, out)
}

// routeOf collapses record ids so metric labels stay bounded.
func routeOf(path string) string {
	switch {
	case strings.HasPrefix(path, recordPrefix):
		return recordPrefix + "{id}"
	case strings.HasPrefix(path, "/debug/pprof/"):
		return "/debug/pprof/"
	case path == "/healthz", path == "/readyz", path == "/v1/stats", path == "/metrics":
		return path
	default:
		return "other"
	}
}
