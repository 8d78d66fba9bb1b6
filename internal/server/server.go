// Package server exposes barcode resolution over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/pricing"
	"github.com/sells-group/sku-lookup/internal/store"
)

const (
	// HeaderUserID and HeaderFranchiseID carry the caller's attribution.
	HeaderUserID      = "X-User-ID"
	HeaderFranchiseID = "X-Franchise-ID"

	maxBodyBytes = 1 << 20
)

// Resolver resolves barcodes.
type Resolver interface {
	Resolve(ctx context.Context, raw string) model.ProductRecord
	ResolveBatch(ctx context.Context, codes []string) []model.ProductRecord
}

// Contributor accepts merchant-entered products.
type Contributor interface {
	Submit(rec model.ProductRecord, attr model.Attribution)
}

// Store is the read side of the shared cache.
type Store interface {
	ListRecent(ctx context.Context, limit int) ([]model.SharedEntry, error)
	Stats(ctx context.Context) (*store.Stats, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Server routes to. Metrics may be nil.
type Deps struct {
	Resolver   Resolver
	Writer     Contributor
	Store      Store
	Pricer     *pricing.Suggester
	Categories []string
	Metrics    http.Handler
	// WithAttribution stores request attribution on the resolve context.
	WithAttribution func(ctx context.Context, attr model.Attribution) context.Context
	CORSOrigins     []string
}

// Server is the HTTP API.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Pricer == nil {
		deps.Pricer = pricing.NewSuggester(nil, pricing.DefaultMargin)
	}
	if deps.WithAttribution == nil {
		deps.WithAttribution = func(ctx context.Context, _ model.Attribution) context.Context { return ctx }
	}
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	return &Server{deps: deps}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxBodyBytes))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderUserID, HeaderFranchiseID},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/lookup/{barcode}", s.handleLookup)
		r.Post("/enrich", s.handleEnrich)
		r.Post("/products", s.handleContribute)
		r.Get("/products/recent", s.handleRecent)
		r.Get("/stats", s.handleStats)
		r.Post("/price", s.handlePrice)
		r.Get("/categories", s.handleCategories)
	})
	return r
}

func attribution(r *http.Request) model.Attribution {
	return model.Attribution{
		UserID:      r.Header.Get(HeaderUserID),
		FranchiseID: r.Header.Get(HeaderFranchiseID),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
