// Package model defines the record types stored by the engine: typed nodes,
// typed edges and embedding vectors.
package model

import (
	"github.com/google/uuid"

	"github.com/gravel-db/gravel/property"
)

// ID uniquely identifies a node, edge or vector record.
type ID = uuid.UUID

// NilID is the zero identifier.
var NilID = uuid.Nil

// NewID returns a fresh record identifier.
func NewID() ID { return uuid.New() }

// Node is a typed graph vertex with properties.
type Node struct {
	ID    ID           `json:"id"`
	Label string       `json:"label"`
	Seq   uint32       `json:"seq"` // insertion sequence, assigned by the store
	Props property.Map `json:"props,omitempty"`
}

// Edge is a typed link between two node ids. Edges hold ids, never
// pointers into node storage.
type Edge struct {
	ID       ID           `json:"id"`
	Label    string       `json:"label"`
	From     ID           `json:"from"`
	To       ID           `json:"to"`
	Directed bool         `json:"directed"`
	Seq      uint32       `json:"seq"`
	Props    property.Map `json:"props,omitempty"`
}

// Vector is an embedding plus properties, stored in a named collection.
type Vector struct {
	ID         ID           `json:"id"`
	Collection string       `json:"collection"`
	Seq        uint32       `json:"seq"`
	Data       []float32    `json:"data"`
	Props      property.Map `json:"props,omitempty"`
}

// Item is the common view of a stored record used by the traversal
// executor.
type Item interface {
	ItemID() ID
	ItemLabel() string
	Properties() property.Map
}

// ItemID implements Item.
func (n *Node) ItemID() ID { return n.ID }

// ItemLabel implements Item.
func (n *Node) ItemLabel() string { return n.Label }

// Properties implements Item.
func (n *Node) Properties() property.Map { return n.Props }

// ItemID implements Item.
func (e *Edge) ItemID() ID { return e.ID }

// ItemLabel implements Item.
func (e *Edge) ItemLabel() string { return e.Label }

// Properties implements Item.
func (e *Edge) Properties() property.Map { return e.Props }

// ItemID implements Item.
func (v *Vector) ItemID() ID { return v.ID }

// ItemLabel implements Item.
func (v *Vector) ItemLabel() string { return v.Collection }

// Properties implements Item.
func (v *Vector) Properties() property.Map { return v.Props }

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	c.Props = n.Props.Clone()
	return &c
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	c := *e
	c.Props = e.Props.Clone()
	return &c
}

// Clone returns a deep copy of the vector record. The embedding is copied.
func (v *Vector) Clone() *Vector {
	c := *v
	c.Props = v.Props.Clone()
	c.Data = append([]float32(nil), v.Data...)
	return &c
}
