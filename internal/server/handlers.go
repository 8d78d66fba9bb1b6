package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			zap.L().Warn("server: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLookup always answers 200: a miss is a found=false record, never
// an error.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := s.deps.WithAttribution(r.Context(), attribution(r))
	rec := s.deps.Resolver.Resolve(ctx, chi.URLParam(r, "barcode"))
	writeJSON(w, http.StatusOK, rec)
}

type enrichRequest struct {
	Codes []string `json:"codes"`
	// Text is a pasted list, split like an uploaded text file.
	Text string `json:"text"`
}

type enrichResponse struct {
	Results  []model.ProductRecord `json:"results"`
	Found    int                   `json:"found"`
	NotFound int                   `json:"not_found"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	codes := req.Codes
	if strings.TrimSpace(req.Text) != "" {
		codes = append(codes, model.ParseBarcodes(req.Text)...)
	}
	if len(codes) == 0 {
		writeError(w, http.StatusBadRequest, "codes or text is required")
		return
	}

	ctx := s.deps.WithAttribution(r.Context(), attribution(r))
	resp := enrichResponse{Results: s.deps.Resolver.ResolveBatch(ctx, codes)}
	for _, rec := range resp.Results {
		if rec.Found {
			resp.Found++
		} else {
			resp.NotFound++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type contributeRequest struct {
	Barcode     string   `json:"barcode"`
	Name        string   `json:"name"`
	Brand       string   `json:"brand"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Size        string   `json:"size"`
	ImageURL    string   `json:"image_url"`
	Price       *float64 `json:"price"`
}

// handleContribute records a product a merchant entered by hand.
func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	var req contributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	barcode, ok := model.NormalizeBarcode(req.Barcode)
	if !ok || len(barcode) > model.MaxBarcodeDigits {
		writeError(w, http.StatusBadRequest, "barcode must have 8 to 14 digits")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Price != nil && *req.Price <= 0 {
		req.Price = nil
	}

	s.deps.Writer.Submit(model.ProductRecord{
		Barcode:        barcode,
		Found:          true,
		Name:           strings.TrimSpace(req.Name),
		Brand:          req.Brand,
		Category:       req.Category,
		Description:    req.Description,
		Size:           req.Size,
		ImageURL:       req.ImageURL,
		SuggestedPrice: req.Price,
		Source:         model.SourceMerchant,
	}, attribution(r))

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "barcode": barcode})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}

	entries, err := s.deps.Store.ListRecent(r.Context(), limit)
	if err != nil {
		zap.L().Error("server: list recent", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []model.SharedEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		zap.L().Error("server: stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type priceRequest struct {
	Cost     float64 `json:"cost"`
	Category string  `json:"category"`
}

type priceResponse struct {
	Cost           float64 `json:"cost"`
	Category       string  `json:"category"`
	Margin         float64 `json:"margin"`
	SuggestedPrice float64 `json:"suggested_price"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cost <= 0 {
		writeError(w, http.StatusBadRequest, "cost must be positive")
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{
		Cost:           req.Cost,
		Category:       req.Category,
		Margin:         s.deps.Pricer.MarginFor(req.Category),
		SuggestedPrice: s.deps.Pricer.Suggest(req.Cost, req.Category),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	cats := s.deps.Categories
	if cats == nil {
		cats = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": cats})
}
