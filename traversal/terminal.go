package traversal

import (
	"fmt"

	"github.com/gravel-db/gravel/model"
	"github.com/gravel-db/gravel/property"
	"github.com/gravel-db/gravel/storage"
)

// Collect materializes the pipeline into a slice.
func (g *G) Collect() ([]model.Item, error) {
	return collect(g.items)
}

// CollectNodes materializes and asserts every record is a node.
func (g *G) CollectNodes() ([]*model.Node, error) {
	items, err := collect(g.items)
	if err != nil {
		return nil, err
	}
	nodes := make([]*model.Node, 0, len(items))
	for _, item := range items {
		n, ok := item.(*model.Node)
		if !ok {
			return nil, fmt.Errorf("traversal: expected nodes, got %T", item)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// CollectEdges materializes and asserts every record is an edge.
func (g *G) CollectEdges() ([]*model.Edge, error) {
	items, err := collect(g.items)
	if err != nil {
		return nil, err
	}
	edges := make([]*model.Edge, 0, len(items))
	for _, item := range items {
		e, ok := item.(*model.Edge)
		if !ok {
			return nil, fmt.Errorf("traversal: expected edges, got %T", item)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// CollectVectors materializes and asserts every record is a vector.
func (g *G) CollectVectors() ([]*model.Vector, error) {
	items, err := collect(g.items)
	if err != nil {
		return nil, err
	}
	vectors := make([]*model.Vector, 0, len(items))
	for _, item := range items {
		v, ok := item.(*model.Vector)
		if !ok {
			return nil, fmt.Errorf("traversal: expected vectors, got %T", item)
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

// CollectOne materializes expecting exactly one record: zero is NotFound,
// more than one is Ambiguous. Callers never have to distinguish "no rows"
// from an empty success list.
func (g *G) CollectOne() (model.Item, error) {
	var (
		found model.Item
		count int
	)
	for item, err := range g.items {
		if err != nil {
			return nil, err
		}
		count++
		if count > 1 {
			return nil, ErrAmbiguous
		}
		found = item
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: no record matched", storage.ErrNotFound)
	}
	return found, nil
}

// Count consumes the pipeline and returns the number of records.
func (g *G) Count() (int, error) {
	count := 0
	for _, err := range g.items {
		if err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// Exist reports whether the pipeline yields at least one record, without
// draining the rest.
func (g *G) Exist() (bool, error) {
	for _, err := range g.items {
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Group is one partition of a GroupBy: the key value, the member count
// and the members in pipeline order.
type Group struct {
	Key   property.Value
	Count int
	Items []model.Item
}

// GroupBy partitions records by a key property. Groups come back in
// first-seen order; records missing the key group under null.
func (g *G) GroupBy(field string) ([]Group, error) {
	var groups []Group
	byKey := make(map[string]int)
	for item, err := range g.items {
		if err != nil {
			return nil, err
		}
		key := item.Properties().GetOr(field)
		k := key.Key()
		idx, ok := byKey[k]
		if !ok {
			idx = len(groups)
			byKey[k] = idx
			groups = append(groups, Group{Key: key})
		}
		groups[idx].Count++
		groups[idx].Items = append(groups[idx].Items, item)
	}
	return groups, nil
}

// Aggregate is GroupBy keeping only key and count.
func (g *G) Aggregate(field string) ([]Group, error) {
	groups, err := g.GroupBy(field)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i].Items = nil
	}
	return groups, nil
}

// ShortestPath runs a breadth-first search from the single seeded node to
// target, walking edges of the given label in the outward direction, and
// returns the node path including both ends. No path is NotFound.
func (g *G) ShortestPath(target model.ID, label string) ([]*model.Node, error) {
	start, err := g.CollectOne()
	if err != nil {
		return nil, err
	}
	startNode, ok := start.(*model.Node)
	if !ok {
		return nil, fmt.Errorf("traversal: ShortestPath requires a node seed, got %T", start)
	}
	txn := g.src.Txn

	if startNode.ID == target {
		return []*model.Node{startNode}, nil
	}

	parent := map[model.ID]model.ID{startNode.ID: startNode.ID}
	frontier := []model.ID{startNode.ID}

	for len(frontier) > 0 {
		var next []model.ID
		for _, cur := range frontier {
			for e := range txn.OutEdges(cur) {
				if e.Label != label {
					continue
				}
				adj := e.To
				if adj == cur && !e.Directed {
					adj = e.From
				}
				if _, visited := parent[adj]; visited {
					continue
				}
				parent[adj] = cur
				if adj == target {
					return g.pathTo(parent, startNode.ID, target)
				}
				next = append(next, adj)
			}
		}
		frontier = next
	}
	return nil, fmt.Errorf("%w: no %s path to %s", storage.ErrNotFound, label, target)
}

func (g *G) pathTo(parent map[model.ID]model.ID, start, target model.ID) ([]*model.Node, error) {
	var reversed []model.ID
	for cur := target; ; cur = parent[cur] {
		reversed = append(reversed, cur)
		if cur == start {
			break
		}
	}
	path := make([]*model.Node, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		n, err := g.src.Txn.GetNode(reversed[i])
		if err != nil {
			return nil, err
		}
		path = append(path, n)
	}
	return path, nil
}
