package kusto

import (
	"strings"

	"github.com/samber/lo"

	"sift/lib/value"
)

// Column is one (name, declared type) pair of a table schema. The declared
// type is the service's name for the column type, distinct from the value
// kind it maps to.
type Column struct {
	Name string
	Type string
}

// Schema is the ordered column layout announced for a logical table.
// Immutable once constructed. Name lookups are case-insensitive; when two
// columns collide under case folding the first declared one wins.
type Schema struct {
	cols    []Column
	ordinal map[string]int
}

func NewSchema(cols []Column) *Schema {
	ordinal := make(map[string]int, len(cols))
	for i, c := range cols {
		key := strings.ToLower(c.Name)
		if _, ok := ordinal[key]; !ok {
			ordinal[key] = i
		}
	}
	return &Schema{cols: cols, ordinal: ordinal}
}

func (s *Schema) Len() int {
	return len(s.cols)
}

func (s *Schema) Column(i int) Column {
	return s.cols[i]
}

// Ordinal resolves a column name to its position, ignoring case.
func (s *Schema) Ordinal(name string) (int, bool) {
	i, ok := s.ordinal[strings.ToLower(name)]
	return i, ok
}

func (s *Schema) DeclaredType(i int) string {
	return s.cols[i].Type
}

// Kind maps the declared type of column i to its value kind. Fails with
// value.UnsupportedTypeError for declared types outside the supported set.
func (s *Schema) Kind(i int) (value.Kind, error) {
	return value.KindOf(s.cols[i].Type)
}

// Names lists the column names in declared order.
func (s *Schema) Names() []string {
	return lo.Map(s.cols, func(c Column, _ int) string { return c.Name })
}
