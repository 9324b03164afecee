package rib

import (
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/rinastack/efcp-core/internal/metrics"
	"github.com/rinastack/efcp-core/rerr"
)

// Event is delivered to a subscriber on any mutation under the subtree
// it registered for.
type Event struct {
	Kind   string // "create", "delete", "write", "start", "stop"
	Object *Object
}

// Tree is the object store: a single root, indexed both by hierarchical
// name and by instance id, with a schema gating what may be inserted
// where and a notification list for subtree subscribers.
type Tree struct {
	mu         sync.RWMutex
	fieldSep   string
	idSep      string
	schema     *Schema
	root       *Object
	byName     map[string]*Object
	byInstance map[xid.ID]*Object
	subs       []subscription
	log        *logrus.Entry
}

type subscription struct {
	prefix string
	fn     func(Event)
}

// NewTree returns a tree rooted at an implicit ROOT object, using the
// given schema and separators. Pass "" for either separator to take the
// default.
func NewTree(schema *Schema, fieldSep, idSep string, log *logrus.Entry) *Tree {
	if fieldSep == "" {
		fieldSep = DefaultFieldSeparator
	}
	if idSep == "" {
		idSep = DefaultIDSeparator
	}
	root := &Object{Class: rootClass, Name: "", Instance: xid.New()}
	t := &Tree{
		fieldSep:   fieldSep,
		idSep:      idSep,
		schema:     schema,
		root:       root,
		byName:     map[string]*Object{"": root},
		byInstance: map[xid.ID]*Object{root.Instance: root},
		log:        log.WithField("component", "rib"),
	}
	return t
}

// Subscribe registers fn to be called for every mutation under the
// subtree rooted at namePrefix ("" subscribes to the whole tree).
func (t *Tree) Subscribe(namePrefix string, fn func(Event)) {
	t.mu.Lock()
	t.subs = append(t.subs, subscription{prefix: namePrefix, fn: fn})
	t.mu.Unlock()
}

func (t *Tree) notify(ev Event) {
	for _, s := range t.subs {
		if s.prefix == "" || hasNamePrefix(ev.Object.Name, s.prefix, t.fieldSep) {
			s.fn(ev)
		}
	}
}

func hasNamePrefix(name, prefix, fieldSep string) bool {
	if prefix == "" || name == prefix {
		return true
	}
	return len(name) > len(prefix) && name[:len(prefix)] == prefix && name[len(prefix):len(prefix)+len(fieldSep)] == fieldSep
}

// CreateObject inserts a new object under its parent (the prefix of name
// up to its last field), rejecting the insertion if the parent does not
// exist or the schema does not allow class beneath the parent's class.
func (t *Tree) CreateObject(class, name string, value []byte) (*Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[name]; exists {
		return nil, rerr.New(rerr.StateMismatch, "rib.create_object_exists")
	}
	parentName, _ := lastField(name, t.fieldSep)
	parent, ok := t.byName[parentName]
	if !ok {
		return nil, rerr.New(rerr.InvalidHandle, "rib.create_object_no_parent")
	}
	if !t.schema.Allows(parent.Class, class) {
		return nil, rerr.New(rerr.PolicyRejected, "rib.create_object_schema")
	}

	obj := &Object{Class: class, Name: name, Instance: xid.New(), Value: value}
	parent.addChild(obj)
	t.byName[name] = obj
	t.byInstance[obj.Instance] = obj
	metrics.RIBObjects.Inc()

	t.log.WithFields(logrus.Fields{"class": class, "name": name}).Debug("rib object created")
	t.notify(Event{Kind: "create", Object: obj})
	return obj, nil
}

// DeleteObject removes name and every descendant, cascading through
// parent/child links.
func (t *Tree) DeleteObject(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.byName[name]
	if !ok || obj == t.root {
		return rerr.New(rerr.InvalidHandle, "rib.delete_object")
	}
	t.deleteSubtree(obj)
	if obj.parent != nil {
		obj.parent.removeChild(obj)
	}
	return nil
}

func (t *Tree) deleteSubtree(obj *Object) {
	for _, c := range obj.children {
		t.deleteSubtree(c)
	}
	delete(t.byName, obj.Name)
	delete(t.byInstance, obj.Instance)
	metrics.RIBObjects.Dec()
	t.notify(Event{Kind: "delete", Object: obj})
}

// ReadObject looks up name and returns its object.
func (t *Tree) ReadObject(name string) (*Object, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obj, ok := t.byName[name]
	if !ok {
		return nil, rerr.New(rerr.InvalidHandle, "rib.read_object")
	}
	return obj, nil
}

// ReadObjectByInstance looks up an object by its instance id.
func (t *Tree) ReadObjectByInstance(id xid.ID) (*Object, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obj, ok := t.byInstance[id]
	if !ok {
		return nil, rerr.New(rerr.InvalidHandle, "rib.read_object_by_instance")
	}
	return obj, nil
}

// WriteObject replaces name's value.
func (t *Tree) WriteObject(name string, value []byte) error {
	t.mu.Lock()
	obj, ok := t.byName[name]
	if !ok {
		t.mu.Unlock()
		return rerr.New(rerr.InvalidHandle, "rib.write_object")
	}
	obj.Value = value
	t.mu.Unlock()
	t.notify(Event{Kind: "write", Object: obj})
	return nil
}

// StartObject and StopObject toggle an object's lifecycle state and
// notify subscribers; the tree does not interpret what "started" means
// for any given class.
func (t *Tree) StartObject(name string) error {
	return t.setStarted(name, true, "start")
}

func (t *Tree) StopObject(name string) error {
	return t.setStarted(name, false, "stop")
}

func (t *Tree) setStarted(name string, started bool, kind string) error {
	t.mu.Lock()
	obj, ok := t.byName[name]
	if !ok {
		t.mu.Unlock()
		return rerr.New(rerr.InvalidHandle, "rib."+kind+"_object")
	}
	obj.Started = started
	t.mu.Unlock()
	t.notify(Event{Kind: kind, Object: obj})
	return nil
}

// nearestAncestor walks up from name's parent chain to the nearest
// object that exists. The daemon's CREATE handling does not use it: an
// inbound CREATE for an absent object is a plain CreateObject, which
// fails when the parent is missing.
func (t *Tree) nearestAncestor(name string) *Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for {
		if obj, ok := t.byName[name]; ok {
			return obj
		}
		parent, _ := lastField(name, t.fieldSep)
		if parent == name {
			return t.root
		}
		name = parent
	}
}
