package categorizer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Category is one entry of the category table.
type Category struct {
	Index int
	Name  string
}

// Table is an immutable, index-ordered set of categories.
type Table struct {
	categories []Category
	byIndex    map[int]string
}

// NewTable copies categories and orders them by index.
func NewTable(categories []Category) (*Table, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("category table is empty")
	}

	t := &Table{
		categories: make([]Category, len(categories)),
		byIndex:    make(map[int]string, len(categories)),
	}
	copy(t.categories, categories)
	sort.Slice(t.categories, func(i, j int) bool { return t.categories[i].Index < t.categories[j].Index })

	for _, c := range t.categories {
		if c.Index < 0 {
			return nil, fmt.Errorf("category %q has negative index %d", c.Name, c.Index)
		}
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("category %d has no name", c.Index)
		}
		if _, dup := t.byIndex[c.Index]; dup {
			return nil, fmt.Errorf("duplicate category index %d", c.Index)
		}
		t.byIndex[c.Index] = c.Name
	}
	return t, nil
}

// Categories returns a copy of the table in index order.
func (t *Table) Categories() []Category {
	out := make([]Category, len(t.categories))
	copy(out, t.categories)
	return out
}

// Name returns the display name for index.
func (t *Table) Name(index int) (string, bool) {
	name, ok := t.byIndex[index]
	return name, ok
}

// Parse turns a raw model answer into a table index. A bare integer must be
// a known index; anything else is matched against category names, first
// match in index order wins.
func (t *Table) Parse(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(trimmed); err == nil {
		if _, ok := t.byIndex[n]; ok {
			return n, true
		}
	}

	lower := strings.ToLower(raw)
	for _, c := range t.categories {
		if strings.Contains(lower, strings.ToLower(c.Name)) {
			return c.Index, true
		}
	}
	return 0, false
}

// String renders the table the way it is shown to the model.
func (t *Table) String() string {
	var b strings.Builder
	b.WriteString("CATEGORIES_TABLE = {")
	for i, c := range t.categories {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d: '%s'", c.Index, c.Name)
	}
	b.WriteString("}")
	return b.String()
}
