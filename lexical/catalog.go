package lexical

import (
	"sort"
	"sync"

	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/property"
)

// Catalog maps node labels to the property field indexed for keyword
// search and holds one BM25 index per label. It plugs into the store's
// commit hooks so the indexes track the published state.
type Catalog struct {
	fields map[string]string // label -> indexed property field

	mu      sync.RWMutex
	byLabel map[string]*Index
}

// NewCatalog declares which labels are searchable and over which field.
func NewCatalog(fields map[string]string) *Catalog {
	c := &Catalog{
		fields:  make(map[string]string, len(fields)),
		byLabel: make(map[string]*Index, len(fields)),
	}
	for label, field := range fields {
		c.fields[label] = field
	}
	return c
}

// Field returns the indexed property field for a label.
func (c *Catalog) Field(label string) (string, bool) {
	field, ok := c.fields[label]
	return field, ok
}

// Labels returns the searchable labels in sorted order.
func (c *Catalog) Labels() []string {
	labels := make([]string, 0, len(c.fields))
	for label := range c.fields {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func (c *Catalog) index(label string) *Index {
	c.mu.RLock()
	ix := c.byLabel[label]
	c.mu.RUnlock()
	if ix != nil {
		return ix
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ix = c.byLabel[label]; ix == nil {
		ix = NewIndex()
		c.byLabel[label] = ix
	}
	return ix
}

// Observe indexes a put node. A missing or empty text field removes the
// document, so clearing the field behaves like a delete.
func (c *Catalog) Observe(n *model.Node) {
	field, ok := c.fields[n.Label]
	if !ok {
		return
	}
	text := textOf(n.Props.GetOr(field))
	ix := c.index(n.Label)
	if text == "" {
		ix.Delete(n.ID)
		return
	}
	ix.Add(n.ID, text)
}

// Remove drops a deleted node from its label's index.
func (c *Catalog) Remove(n *model.Node) {
	if _, ok := c.fields[n.Label]; !ok {
		return
	}
	c.index(n.Label).Delete(n.ID)
}

// Search runs a BM25 query against one label's index.
func (c *Catalog) Search(label, query string, k int) []Hit {
	if _, ok := c.fields[label]; !ok {
		return nil
	}
	return c.index(label).Search(query, k)
}

func textOf(v property.Value) string {
	s, _ := v.AsString()
	return s
}
