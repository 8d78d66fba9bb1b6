package category

import "strings"

// General is the department for products no keyword matches.
const General = "General"

// Standardizer maps free-text product names and catalog categories onto the
// store department vocabulary.
type Standardizer struct {
	departments []Department
}

// NewStandardizer builds a Standardizer from the department table.
func NewStandardizer(t Tables) *Standardizer {
	deps := make([]Department, 0, len(t.Departments))
	for _, d := range t.Departments {
		kw := make([]string, 0, len(d.Keywords))
		for _, k := range d.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		deps = append(deps, Department{Name: d.Name, Keywords: kw})
	}
	return &Standardizer{departments: deps}
}

// Standardize returns the first department with a keyword contained in the
// lower-cased name and source category. If none match, the source category
// alone is checked against a few broad terms; otherwise General.
func (s *Standardizer) Standardize(name, sourceCategory string) string {
	if name == "" && sourceCategory == "" {
		return General
	}

	text := strings.ToLower(name + " " + sourceCategory)
	for _, d := range s.departments {
		for _, k := range d.Keywords {
			if strings.Contains(text, k) {
				return d.Name
			}
		}
	}

	cat := strings.ToLower(sourceCategory)
	switch {
	case cat == "":
		return General
	case strings.Contains(cat, "beverage"), strings.Contains(cat, "drink"):
		return "Beverages"
	case strings.Contains(cat, "snack"), strings.Contains(cat, "chip"):
		return "Snacks"
	case strings.Contains(cat, "candy"), strings.Contains(cat, "confection"):
		return "Candy"
	case strings.Contains(cat, "tobacco"), strings.Contains(cat, "cigarette"):
		return Tobacco
	case strings.Contains(cat, "beer"):
		return "Beer"
	case strings.Contains(cat, "wine"):
		return "Wine"
	case strings.Contains(cat, "liquor"):
		return "Spirits"
	case strings.Contains(cat, "dairy"), strings.Contains(cat, "milk"):
		return "Dairy"
	case strings.Contains(cat, "frozen"):
		return "Frozen"
	case strings.Contains(cat, "health"), strings.Contains(cat, "beauty"), strings.Contains(cat, "personal"):
		return "Health & Beauty"
	}
	return General
}

// RetailCategories is the category vocabulary offered to merchants when
// they enter a product by hand.
func RetailCategories() []string {
	return []string{
		"Beverages",
		"Snacks",
		"Candy",
		"Tobacco",
		"Alcohol - Beer",
		"Alcohol - Wine",
		"Alcohol - Spirits",
		"Grocery",
		"Dairy",
		"Frozen",
		"Household",
		"Health & Beauty",
		"Lottery",
		"Vape & E-Cig",
		"Other",
	}
}
