// Package category corrects and standardizes product categories.
//
// Brand and department tables are static data: the embedded brands.yaml is
// parsed once per process, and an optional override file is read at startup.
// Nothing mutates a Tables value after it is built.
package category

import (
	_ "embed"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed brands.yaml
var brandsYAML []byte

// Department is a store department and the keywords that select it.
type Department struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Tables holds the brand lists and department keyword table.
type Tables struct {
	Tobacco           []string     `yaml:"tobacco"`
	Alcohol           []string     `yaml:"alcohol"`
	AlcoholCategories []string     `yaml:"alcohol_categories"`
	Departments       []Department `yaml:"departments"`
}

// ParseTables decodes a brands YAML document.
func ParseTables(data []byte) (Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tables{}, eris.Wrap(err, "category: parse tables")
	}
	if len(t.Tobacco) == 0 && len(t.Alcohol) == 0 {
		return Tables{}, eris.New("category: tables define no brands")
	}
	return t, nil
}

// LoadTables reads a brands YAML file from disk.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, eris.Wrapf(err, "category: read tables %s", path)
	}
	return ParseTables(data)
}

// DefaultTables returns the embedded tables, parsed on first use.
var DefaultTables = sync.OnceValues(func() (Tables, error) {
	return ParseTables(brandsYAML)
})
