package rib

import "strings"

// DefaultFieldSeparator and DefaultIDSeparator match the RIB's default
// hierarchical naming convention: fields joined by "," and each field
// optionally carrying a class instance after "=" (e.g. "A=1,Barcelona").
const (
	DefaultFieldSeparator = ","
	DefaultIDSeparator    = "="
)

// rootClass is the implicit class of the tree root, the schema parent
// for every top-level field.
const rootClass = "ROOT"

// Schema declares, for each class, the set of child classes the tree
// accepts beneath it. An object whose class has no rule under its
// parent's class is rejected on insertion.
type Schema struct {
	allowed map[string]map[string]struct{}
}

// NewSchema returns an empty schema; nothing is accepted as a child of
// anything until rules are added.
func NewSchema() *Schema {
	return &Schema{allowed: make(map[string]map[string]struct{})}
}

// Allow declares that childClass may be created as a direct child of an
// object of class parentClass. Use rootClass ("ROOT") as parentClass for
// top-level objects.
func (s *Schema) Allow(parentClass, childClass string) {
	set, ok := s.allowed[parentClass]
	if !ok {
		set = make(map[string]struct{})
		s.allowed[parentClass] = set
	}
	set[childClass] = struct{}{}
}

// Allows reports whether childClass may be created under parentClass.
func (s *Schema) Allows(parentClass, childClass string) bool {
	set, ok := s.allowed[parentClass]
	if !ok {
		return false
	}
	_, ok = set[childClass]
	return ok
}

// splitField separates one name field into its class and instance parts
// on idSep. A field with no idSep (e.g. "Barcelona") has an empty
// instance part.
func splitField(field, idSep string) (class, instance string) {
	idx := strings.Index(field, idSep)
	if idx < 0 {
		return field, ""
	}
	return field[:idx], field[idx+len(idSep):]
}

// lastField returns the last field of name and the name of its parent
// (everything before it, minus the trailing separator). An empty parent
// name denotes the root.
func lastField(name, fieldSep string) (parent, field string) {
	idx := strings.LastIndex(name, fieldSep)
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+len(fieldSep):]
}
