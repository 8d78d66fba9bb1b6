package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sku-lookup/internal/category"
	"github.com/sells-group/sku-lookup/internal/metrics"
	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/store"
)

type attrKey struct{}

type fakeResolver struct {
	mu      sync.Mutex
	known   map[string]model.ProductRecord
	lastRaw string
	attr    model.Attribution
	batch   []string
}

func (f *fakeResolver) Resolve(ctx context.Context, raw string) model.ProductRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRaw = raw
	f.attr, _ = ctx.Value(attrKey{}).(model.Attribution)
	digits, _ := model.NormalizeBarcode(raw)
	if rec, ok := f.known[digits]; ok {
		return rec
	}
	return model.NotFound(digits)
}

func (f *fakeResolver) ResolveBatch(ctx context.Context, codes []string) []model.ProductRecord {
	f.batch = codes
	out := make([]model.ProductRecord, len(codes))
	for i, c := range codes {
		out[i] = f.Resolve(ctx, c)
	}
	return out
}

type fakeWriter struct {
	recs []model.ProductRecord
	attr []model.Attribution
}

func (f *fakeWriter) Submit(rec model.ProductRecord, attr model.Attribution) {
	f.recs = append(f.recs, rec)
	f.attr = append(f.attr, attr)
}

type brokenStore struct{}

func (brokenStore) ListRecent(context.Context, int) ([]model.SharedEntry, error) {
	return nil, errors.New("no such table: shared_products")
}

func (brokenStore) Stats(context.Context) (*store.Stats, error) {
	return nil, errors.New("no such table: shared_products")
}

func (brokenStore) Ping(context.Context) error { return errors.New("database is closed") }

type testEnv struct {
	srv      *httptest.Server
	resolver *fakeResolver
	writer   *fakeWriter
	store    *store.SQLiteStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	env := &testEnv{
		resolver: &fakeResolver{known: map[string]model.ProductRecord{
			"012000161155": {Barcode: "012000161155", Found: true, Name: "Pepsi 20oz", Source: model.SourceSpider},
		}},
		writer: &fakeWriter{},
		store:  st,
	}
	s := New(Deps{
		Resolver:   env.resolver,
		Writer:     env.writer,
		Store:      st,
		Categories: category.RetailCategories(),
		Metrics:    metrics.NewRegistry().Handler(),
		WithAttribution: func(ctx context.Context, attr model.Attribution) context.Context {
			return context.WithValue(ctx, attrKey{}, attr)
		},
	})
	env.srv = httptest.NewServer(s.Routes())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestHealth_StoreDown(t *testing.T) {
	srv := httptest.NewServer(New(Deps{Store: brokenStore{}}).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLookup(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/lookup/0-12000-16115-5", nil, map[string]string{
		HeaderUserID:      "u-7",
		HeaderFranchiseID: "f-3",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var rec model.ProductRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.True(t, rec.Found)
	assert.Equal(t, "Pepsi 20oz", rec.Name)
	assert.Equal(t, model.Attribution{UserID: "u-7", FranchiseID: "f-3"}, env.resolver.attr)
}

func TestLookup_MissIsNotAnError(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/lookup/123", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"barcode":"123","found":false}`, string(body))
}

func TestEnrich(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/enrich", map[string]any{
		"codes": []string{"012000161155"},
		"text":  "049000028911, 12\n012345678905",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out enrichResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Results, 3)
	assert.Equal(t, 1, out.Found)
	assert.Equal(t, 2, out.NotFound)
	assert.Equal(t, []string{"012000161155", "049000028911", "012345678905"}, env.resolver.batch)
}

func TestEnrich_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/enrich", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/v1/enrich", map[string]any{"codes": []string{}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "required")
}

func TestContribute(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/products", map[string]any{
		"barcode":  "0 28200 00384 3",
		"name":     " Marlboro Red Box ",
		"category": "Tobacco",
		"price":    9.49,
	}, map[string]string{HeaderFranchiseID: "f-1"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"status":"accepted","barcode":"028200003843"}`, string(body))

	require.Len(t, env.writer.recs, 1)
	rec := env.writer.recs[0]
	assert.Equal(t, model.SourceMerchant, rec.Source)
	assert.Equal(t, "Marlboro Red Box", rec.Name)
	assert.True(t, rec.Found)
	require.NotNil(t, rec.SuggestedPrice)
	assert.InDelta(t, 9.49, *rec.SuggestedPrice, 1e-9)
	assert.Equal(t, "f-1", env.writer.attr[0].FranchiseID)
}

func TestContribute_Validation(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []map[string]any{
		{"barcode": "1234", "name": "Gum"},
		{"barcode": "123456789012345", "name": "Gum"},
		{"barcode": "012345678905", "name": "  "},
	} {
		resp, _ := env.do(t, http.MethodPost, "/v1/products", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%v", body)
	}
	assert.Empty(t, env.writer.recs)
}

func TestRecentAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.InsertProduct(ctx, model.SharedEntry{Barcode: "012000161155", Name: "Pepsi 20oz", OriginalSource: model.SourceSpider})
	require.NoError(t, err)
	_, err = env.store.InsertProduct(ctx, model.SharedEntry{Barcode: "049000028911", Name: "Coke 12oz", OriginalSource: model.SourceMerchant})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodGet, "/v1/products/recent?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recent struct {
		Products []model.SharedEntry `json:"products"`
	}
	require.NoError(t, json.Unmarshal(body, &recent))
	assert.Len(t, recent.Products, 1)

	resp, _ = env.do(t, http.MethodGet, "/v1/products/recent?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats store.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 2, stats.Products)
	assert.Equal(t, 1, stats.BySource[model.SourceSpider])
}

func TestRecentAndStats_StoreErrors(t *testing.T) {
	srv := httptest.NewServer(New(Deps{Store: brokenStore{}}).Routes())
	defer srv.Close()

	for _, path := range []string{"/v1/products/recent", "/v1/stats"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close() //nolint:errcheck
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, path)
	}
}

func TestPrice(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/price", map[string]any{"cost": 1.00, "category": "Beverages"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out priceResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.InDelta(t, 0.35, out.Margin, 1e-9)
	assert.InDelta(t, 1.59, out.SuggestedPrice, 1e-9)

	resp, _ = env.do(t, http.MethodPost, "/v1/price", map[string]any{"cost": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCategories(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/categories", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string][]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Contains(t, out["categories"], "Tobacco")
}

func TestMetricsAndCORS(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	resp, _ = env.do(t, http.MethodOptions, "/v1/lookup/012000161155", nil, map[string]string{
		"Origin":                        "https://pos.example.com",
		"Access-Control-Request-Method": http.MethodGet,
	})
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
