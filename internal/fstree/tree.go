// Package fstree implements the in-memory file tree: path canonicalization,
// navigation, and session handles that mutate a shared tree under a
// reader/writer lock.
package fstree

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fruitsalade/aftp/pkg/protocol"
)

// Kind tells folders and files apart.
type Kind int

const (
	Folder Kind = iota
	File
)

func (k Kind) String() string {
	if k == File {
		return string(protocol.EntryFile)
	}
	return string(protocol.EntryFolder)
}

// EntryType converts k to its wire representation.
func (k Kind) EntryType() protocol.EntryType {
	if k == File {
		return protocol.EntryFile
	}
	return protocol.EntryFolder
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch protocol.EntryType(b) {
	case protocol.EntryFolder:
		*k = Folder
	case protocol.EntryFile:
		*k = File
	default:
		return fmt.Errorf("unknown entry kind %q", b)
	}
	return nil
}

// Node is a named entry. ContentRef identifies the stored bytes of a file
// and is empty for folders.
type Node struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	ContentRef string `json:"content_ref,omitempty"`
}

// UnmarshalJSON decodes a node and rejects documents without a kind, which
// would otherwise default to Folder.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name       string `json:"name"`
		Kind       *Kind  `json:"kind"`
		ContentRef string `json:"content_ref"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Kind == nil {
		return fmt.Errorf("node %q has no kind", raw.Name)
	}
	*n = Node{Name: raw.Name, Kind: *raw.Kind, ContentRef: raw.ContentRef}
	return nil
}

// NewFolder returns a folder node.
func NewFolder(name string) Node {
	return Node{Name: name, Kind: Folder}
}

// NewFile returns a file node referencing stored content.
func NewFile(name, contentRef string) Node {
	return Node{Name: name, Kind: File, ContentRef: contentRef}
}

func (n Node) IsFolder() bool { return n.Kind == Folder }
func (n Node) IsFile() bool   { return n.Kind == File }

// Tree is a node and its ordered children. Sibling names are unique.
type Tree struct {
	Node     Node    `json:"node"`
	Children []*Tree `json:"children"`
}

// RootName is the name of the synthetic root folder.
const RootName = "root"

// NewRoot returns an empty root folder.
func NewRoot() *Tree {
	return &Tree{Node: NewFolder(RootName), Children: []*Tree{}}
}

// TraverseToPath walks path one segment at a time from t. It returns nil as
// soon as a segment has no matching child, and never descends through a file.
func (t *Tree) TraverseToPath(path []string) *Tree {
	cur := t
	for _, seg := range path {
		if cur == nil || !cur.Node.IsFolder() {
			return nil
		}
		cur = cur.child(seg)
	}
	return cur
}

func (t *Tree) child(name string) *Tree {
	for _, c := range t.Children {
		if c.Node.Name == name {
			return c
		}
	}
	return nil
}

func (t *Tree) hasChild(name string) bool {
	return t.child(name) != nil
}

// removeChild detaches the named child and returns it, or nil.
func (t *Tree) removeChild(name string) *Tree {
	for i, c := range t.Children {
		if c.Node.Name == name {
			t.Children = append(t.Children[:i], t.Children[i+1:]...)
			return c
		}
	}
	return nil
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := &Tree{Node: t.Node, Children: make([]*Tree, 0, len(t.Children))}
	for _, c := range t.Children {
		out.Children = append(out.Children, c.Clone())
	}
	return out
}

// Count returns the number of nodes in t, t included.
func (t *Tree) Count() int {
	if t == nil {
		return 0
	}
	n := 1
	for _, c := range t.Children {
		n += c.Count()
	}
	return n
}

// Files returns every file node under t in pre-order.
func (t *Tree) Files() []Node {
	var out []Node
	t.walk(func(n Node) {
		if n.IsFile() {
			out = append(out, n)
		}
	})
	return out
}

func (t *Tree) walk(fn func(Node)) {
	if t == nil {
		return
	}
	fn(t.Node)
	for _, c := range t.Children {
		c.walk(fn)
	}
}

// Validate checks the shape a live tree always has: every name reachable
// through a canonical path, unique among its siblings, files with a content
// ref and no children. Trees read from outside must pass it before use.
func (t *Tree) Validate() error {
	if t == nil {
		return errors.New("empty tree")
	}
	return t.validate("")
}

func (t *Tree) validate(parent string) error {
	if !validName(t.Node.Name) {
		return fmt.Errorf("%s: invalid name %q", parent+PathSeparator, t.Node.Name)
	}
	at := parent + PathSeparator + t.Node.Name
	if t.Node.IsFile() {
		if len(t.Children) > 0 {
			return fmt.Errorf("%s: file has children", at)
		}
		if t.Node.ContentRef == "" {
			return fmt.Errorf("%s: file has no content ref", at)
		}
		return nil
	}
	seen := make(map[string]struct{}, len(t.Children))
	for _, c := range t.Children {
		if c == nil {
			return fmt.Errorf("%s: null child", at)
		}
		if _, dup := seen[c.Node.Name]; dup {
			return fmt.Errorf("%s: duplicate child %q", at, c.Node.Name)
		}
		seen[c.Node.Name] = struct{}{}
		if err := c.validate(at); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether t and o have the same shape, names, kinds and
// content references, children compared in order.
func (t *Tree) Equal(o *Tree) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Node != o.Node || len(t.Children) != len(o.Children) {
		return false
	}
	for i := range t.Children {
		if !t.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}

// FlatItem projects n for listings.
func (n Node) FlatItem() protocol.FlatItem {
	return protocol.FlatItem{Name: n.Name, EntryType: n.Kind.EntryType()}
}

// Flatten projects t and its immediate children.
func (t *Tree) Flatten() protocol.FlatTree {
	items := make([]protocol.FlatItem, 0, len(t.Children))
	for _, c := range t.Children {
		items = append(items, c.Node.FlatItem())
	}
	return protocol.FlatTree{
		Meta:       protocol.Meta{Name: t.Node.Name},
		EntryType:  t.Node.Kind.EntryType(),
		SubEntries: items,
	}
}
