// Package rib implements the Resource Information Base: a hierarchical,
// schema-validated object tree with local CRUD verbs and remote twins
// dispatched over a CDAP session, plus response-handler demultiplexing
// keyed by invoke-id.
package rib

import (
	"github.com/rs/xid"
)

// Object is one node in the RIB tree: a class, a hierarchical name, a
// globally unique instance id, an opaque encoded value, and parent/child
// links. Value is stored as the bytes supplied; the tree neither encodes
// nor decodes it and keeps no per-class Codec registry.
type Object struct {
	Class    string
	Name     string
	Instance xid.ID
	Value    []byte
	Started  bool

	parent   *Object
	children []*Object
}

// Parent returns the object's parent, or nil for the root.
func (o *Object) Parent() *Object { return o.parent }

// Children returns a copy of the object's child list.
func (o *Object) Children() []*Object {
	out := make([]*Object, len(o.children))
	copy(out, o.children)
	return out
}

func (o *Object) addChild(c *Object) {
	c.parent = o
	o.children = append(o.children, c)
}

func (o *Object) removeChild(c *Object) {
	for i, ch := range o.children {
		if ch == c {
			o.children = append(o.children[:i], o.children[i+1:]...)
			return
		}
	}
}

// Codec encodes and decodes the opaque value carried by objects of one
// class. The RIB tree itself never interprets Value; it only stores and
// forwards the bytes a Codec produces.
type Codec interface {
	EncodeValue(v interface{}) ([]byte, error)
	DecodeValue(b []byte) (interface{}, error)
}
