package category

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/sku-lookup/internal/model"
)

const (
	// Tobacco is forced onto any product naming a tobacco brand.
	Tobacco = "Tobacco"
	// Alcohol is the generic category for alcohol brands without a more
	// specific one.
	Alcohol = "Alcohol"
)

// Corrector overrides categories that external catalogs get wrong for
// age-restricted brands.
type Corrector struct {
	tobacco []string
	alcohol []string
	keep    map[string]struct{}
}

// NewCorrector builds a Corrector from brand tables. Tokens are upper-cased
// once here.
func NewCorrector(t Tables) *Corrector {
	c := &Corrector{
		tobacco: upperAll(t.Tobacco),
		alcohol: upperAll(t.Alcohol),
		keep:    make(map[string]struct{}, len(t.AlcoholCategories)),
	}
	for _, cat := range t.AlcoholCategories {
		c.keep[cat] = struct{}{}
	}
	return c
}

// NewDefaultCorrector builds a Corrector from the embedded tables.
func NewDefaultCorrector() (*Corrector, error) {
	t, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	return NewCorrector(t), nil
}

// Correct returns rec with its category overridden when a brand rule fires.
// A tobacco brand always yields "Tobacco". An alcohol brand yields "Alcohol"
// unless the category is already one of the alcohol categories. Every other
// field passes through unchanged.
func (c *Corrector) Correct(rec model.ProductRecord) model.ProductRecord {
	if !rec.Found {
		return rec
	}

	name := upper(rec.Name)
	brand := upper(rec.Brand)

	if matchAny(c.tobacco, name, brand) {
		rec.Category = Tobacco
		return rec
	}

	if matchAny(c.alcohol, name, brand) {
		if _, ok := c.keep[rec.Category]; !ok {
			rec.Category = Alcohol
		}
	}
	return rec
}

func matchAny(tokens []string, fields ...string) bool {
	for _, tok := range tokens {
		for _, f := range fields {
			if f != "" && strings.Contains(f, tok) {
				return true
			}
		}
	}
	return false
}

// casers recycles upper-casers. A Caser carries state, so each one is held
// by a single goroutine at a time.
var casers = sync.Pool{
	New: func() any {
		c := cases.Upper(language.Und)
		return &c
	},
}

func upper(s string) string {
	if s == "" {
		return ""
	}
	c := casers.Get().(*cases.Caser)
	defer casers.Put(c)
	return c.String(s)
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, upper(s))
		}
	}
	return out
}
