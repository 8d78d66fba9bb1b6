package category

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sku-lookup/internal/model"
)

func newTestCorrector(t *testing.T) *Corrector {
	t.Helper()
	c, err := NewDefaultCorrector()
	require.NoError(t, err)
	return c
}

func found(name, brand, cat string) model.ProductRecord {
	return model.ProductRecord{
		Barcode:  "012345678905",
		Found:    true,
		Name:     name,
		Brand:    brand,
		Category: cat,
		Source:   model.SourceGenericDB,
	}
}

func TestDefaultTables_Embedded(t *testing.T) {
	tables, err := DefaultTables()
	require.NoError(t, err)
	assert.Contains(t, tables.Tobacco, "MARLBORO")
	assert.Contains(t, tables.Alcohol, "CORONA")
	assert.ElementsMatch(t, []string{"Alcohol", "Beer", "Wine", "Spirits"}, tables.AlcoholCategories)
	require.NotEmpty(t, tables.Departments)
	assert.Equal(t, "Beverages", tables.Departments[0].Name)
}

func TestCorrect_TobaccoUnconditional(t *testing.T) {
	t.Parallel()
	c := newTestCorrector(t)

	for _, src := range []model.Source{model.SourceSharedCache, model.SourceSpider, model.SourceOpenFacts, model.SourceGenericDB} {
		rec := found("Marlboro Red Box", "", "Snacks")
		rec.Source = src
		got := c.Correct(rec)
		assert.Equal(t, Tobacco, got.Category, "source %s", src)
		assert.Equal(t, src, got.Source)
	}
}

func TestCorrect_TobaccoFromBrandField(t *testing.T) {
	t.Parallel()
	c := newTestCorrector(t)

	got := c.Correct(found("Kings Box 20ct", "newport", "Grocery"))
	assert.Equal(t, Tobacco, got.Category)
}

func TestCorrect_TobaccoBeatsAlcohol(t *testing.T) {
	t.Parallel()
	c := newTestCorrector(t)

	got := c.Correct(found("Camel and Miller bundle", "", "Beer"))
	assert.Equal(t, Tobacco, got.Category)
}

func TestCorrect_AlcoholKeepsSpecificCategory(t *testing.T) {
	t.Parallel()
	c := newTestCorrector(t)

	for _, cat := range []string{"Beer", "Wine", "Spirits", "Alcohol"} {
		got := c.Correct(found("Extra", "CORONA", cat))
		assert.Equal(t, cat, got.Category)
	}
}

func TestCorrect_AlcoholOverridesGeneric(t *testing.T) {
	t.Parallel()
	c := newTestCorrector(t)

	got := c.Correct(found("Corona Extra 6-Pack", "Grupo Modelo", "Beverages"))
	assert.Equal(t, Alcohol, got.Category)

	got = c.Correct(found("White Claw Black Cherry", "", ""))
	assert.Equal(t, Alcohol, got.Category)
}

func TestCorrect_NoMatchPassesThrough(t *testing.T) {
	t.Parallel()
	c := newTestCorrector(t)

	rec := found("Topo Chico Mineral Water", "Topo Chico", "Beverages")
	rec.Size = "12 oz"
	assert.Equal(t, rec, c.Correct(rec))
}

func TestCorrect_Idempotent(t *testing.T) {
	t.Parallel()
	c := newTestCorrector(t)

	for _, rec := range []model.ProductRecord{
		found("Marlboro Red Box", "", "Snacks"),
		found("Bud Light", "", "Grocery"),
		found("Corona", "", "Beer"),
		found("Doritos", "Frito-Lay", "Snacks"),
	} {
		once := c.Correct(rec)
		assert.Equal(t, once, c.Correct(once))
	}
}

func TestCorrect_ConcurrentCallers(t *testing.T) {
	t.Parallel()
	c := newTestCorrector(t)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if i%2 == 0 {
					assert.Equal(t, Tobacco, c.Correct(found("marlboro gold", "", "Snacks")).Category)
				} else {
					assert.Equal(t, "Beverages", c.Correct(found("topo chico mineral water", "topo chico", "Beverages")).Category)
				}
			}
		}()
	}
	wg.Wait()
}

func BenchmarkCorrect(b *testing.B) {
	c, err := NewDefaultCorrector()
	require.NoError(b, err)
	rec := found("Topo Chico Mineral Water", "Topo Chico", "Beverages")

	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		c.Correct(rec)
	}
}

func TestCorrect_NotFoundUntouched(t *testing.T) {
	t.Parallel()
	c := newTestCorrector(t)

	rec := model.NotFound("012345678905")
	assert.Equal(t, rec, c.Correct(rec))
}

func TestLoadTables_Override(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "brands.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tobacco: [zyn]\nalcohol: [high noon]\nalcohol_categories: [Seltzer]\n"), 0o644))

	tables, err := LoadTables(path)
	require.NoError(t, err)
	c := NewCorrector(tables)

	assert.Equal(t, Tobacco, c.Correct(found("ZYN Cool Mint 6mg", "", "Candy")).Category)
	assert.Equal(t, "Seltzer", c.Correct(found("High Noon Sun Sips", "", "Seltzer")).Category)
	assert.Equal(t, "Snacks", c.Correct(found("Marlboro", "", "Snacks")).Category)
}

func TestParseTables_Errors(t *testing.T) {
	t.Parallel()

	_, err := ParseTables([]byte("tobacco: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse tables")

	_, err = ParseTables([]byte("departments: []\n"))
	require.Error(t, err)

	_, err = LoadTables(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestStandardize(t *testing.T) {
	t.Parallel()

	tables, err := DefaultTables()
	require.NoError(t, err)
	s := NewStandardizer(tables)

	tests := []struct {
		name, cat, want string
	}{
		{"Bud Light 6 Pack", "", "Beer"},
		{"Marlboro Red Box", "", "Tobacco"},
		{"Gatorade Fruit Punch", "", "Beverages"},
		{"Mystery Item", "Confectionery", "Candy"},
		{"Widget", "", General},
		{"", "", General},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Standardize(tt.name, tt.cat), "%q/%q", tt.name, tt.cat)
	}
}

func TestRetailCategories(t *testing.T) {
	t.Parallel()

	cats := RetailCategories()
	assert.Len(t, cats, 15)
	assert.Contains(t, cats, "Tobacco")
	assert.Equal(t, "Other", cats[len(cats)-1])
}
