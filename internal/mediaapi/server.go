package mediaapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/platform/httpx"
	"github.com/freemedia/storefront/internal/platform/observability"
	"github.com/freemedia/storefront/internal/platform/pagination"
)

// ServerOptions configure the development media API.
type ServerOptions struct {
	Logger *zap.Logger
	// Registry receives the server's collectors and backs /metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
	// BareArray answers listings with a bare JSON array instead of the {data,total,pageSize} envelope.
	BareArray bool
	// Latency is added to every media response.
	Latency         time.Duration
	DefaultPageSize int
}

type server struct {
	catalog   *Catalog
	opts      ServerOptions
	downloads *prometheus.CounterVec
	listings  prometheus.Counter
}

// NewServer returns the media API router over catalog.
func NewServer(catalog *Catalog, opts ServerOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = pagination.DefaultPageSize
	}
	factory := promauto.With(opts.Registry)
	s := &server{
		catalog: catalog,
		opts:    opts,
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediaapi",
			Name:      "downloads_total",
			Help:      "File downloads served, by category.",
		}, []string{"category"}),
		listings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediaapi",
			Name:      "listing_pages_total",
			Help:      "Listing pages served.",
		}),
	}
	metrics := observability.NewHTTPMetrics(opts.Registry, "mediaapi")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TraceMiddleware())
	r.Use(observability.InjectLoggerMiddleware(opts.Logger))
	r.Use(observability.RequestLoggerMiddleware())
	r.Use(observability.RecoveryMiddleware(opts.Logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "items": catalog.Len()})
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))

	r.Route("/media", func(r chi.Router) {
		r.Use(s.delay)
		r.Get("/", s.list)
		r.Get("/{id}", s.get)
		r.Get("/{id}/download", s.download)
	})
	return r
}

func (s *server) delay(next http.Handler) http.Handler {
	if s.opts.Latency <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(s.opts.Latency):
		case <-r.Context().Done():
			return
		}
		next.ServeHTTP(w, r)
	})
}

type listEnvelope struct {
	Data     []domain.MediaItem `json:"data"`
	Total    int                `json:"total"`
	PageSize int                `json:"pageSize"`
	Page     int                `json:"page"`
}

func (s *server) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: s.opts.DefaultPageSize})
	if err != nil {
		param := "page"
		if errors.Is(err, pagination.ErrInvalidPageSize) {
			param = "pageSize"
		}
		httpx.WriteError(ctx, w, httpx.InvalidQuery(param, err))
		return
	}
	query := r.URL.Query()
	items, total := s.catalog.Query(domain.MediaQuery{
		Category: query.Get("category"),
		Search:   query.Get("search"),
		Sort:     domain.ParseMediaSort(query.Get("sort")),
		Page:     params.Page,
		PageSize: params.PageSize,
	})
	s.listings.Inc()
	if s.opts.BareArray {
		httpx.WriteJSON(w, http.StatusOK, items)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listEnvelope{Data: items, Total: total, PageSize: params.PageSize, Page: params.Page})
}

func (s *server) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok := s.catalog.Item(id)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.MediaNotFound(id))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, item)
}

func (s *server) download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok := s.catalog.Item(id)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.MediaNotFound(id))
		return
	}
	category := item.Category
	if category == "" {
		category = "uncategorized"
	}
	s.downloads.WithLabelValues(category).Inc()

	filename := strings.ReplaceAll(strings.ToLower(item.Title), " ", "-") + ".bin"
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, filename, item.CreatedAt, bytes.NewReader(placeholderFile(item)))
}

func placeholderFile(item domain.MediaItem) []byte {
	return []byte(fmt.Sprintf("FREEMEDIA\x00%s\x00%s\n", item.ID, item.Title))
}
