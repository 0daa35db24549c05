package fstree

import (
	"context"
	"slices"
	"sync"
	"time"
)

// persistTimeout bounds a snapshot write once it is detached from the caller.
const persistTimeout = 30 * time.Second

// Sink persists the whole tree after a mutation.
type Sink interface {
	Persist(ctx context.Context, root *Tree) error
}

// Store owns the one shared tree. Sessions reach it only through handles.
type Store struct {
	mu   sync.RWMutex
	root *Tree
	size int
	sink Sink
}

// NewStore wraps root. A nil root starts an empty tree; a nil sink disables
// snapshots.
func NewStore(root *Tree, sink Sink) *Store {
	if root == nil {
		root = NewRoot()
	}
	return &Store{root: root, size: root.Count(), sink: sink}
}

// Handle opens a session positioned at the root.
func (s *Store) Handle() *Handle {
	return &Handle{store: s}
}

// Size returns the number of nodes in the tree, root included.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Snapshot returns a deep copy of the whole tree.
func (s *Store) Snapshot() *Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root.Clone()
}

// Persist writes the current tree to the sink under the write lock.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// persistLocked runs with the write lock held so the snapshot matches
// exactly one state of the tree. The mutation is already applied, so the
// write ignores cancellation of ctx and only keeps its values.
func (s *Store) persistLocked(ctx context.Context) error {
	if s.sink == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.sink.Persist(ctx, s.root); err != nil {
		return OperationFailed("snapshot failed", err)
	}
	return nil
}

// Handle is a session cursor over a Store. The head is a path, re-resolved
// against the live tree by every operation. A Handle must not be used from
// several goroutines at once; open one handle per session instead.
type Handle struct {
	store *Store
	head  []string
}

// Head returns a copy of the current head path.
func (h *Handle) Head() []string {
	return slices.Clone(h.head)
}

// ResetHead moves the head back to the root.
func (h *Handle) ResetHead() {
	h.head = nil
}

func (h *Handle) resolve() *Tree {
	return h.store.root.TraverseToPath(h.head)
}

// Get returns a copy of the node at the head.
func (h *Handle) Get() (Node, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	cur := h.resolve()
	if cur == nil {
		return Node{}, ErrPathNotFound
	}
	return cur.Node, nil
}

// ListChildren returns copies of the head's immediate children. A file has
// no children and yields an empty slice.
func (h *Handle) ListChildren() ([]Node, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	cur := h.resolve()
	if cur == nil {
		return nil, ErrPathNotFound
	}
	out := make([]Node, 0, len(cur.Children))
	for _, c := range cur.Children {
		out = append(out, c.Node)
	}
	return out, nil
}

// Tree returns a deep copy of the subtree at the head.
func (h *Handle) Tree() (*Tree, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	cur := h.resolve()
	if cur == nil {
		return nil, ErrPathNotFound
	}
	return cur.Clone(), nil
}

// ChangeHead moves the head to path, taken relative to the current head.
// Both the current head and the target must resolve; otherwise the head is
// left untouched.
func (h *Handle) ChangeHead(path []string) error {
	cn := Canonicalize(path)

	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	cur := h.resolve()
	if cur == nil {
		return ErrPathNotFound
	}
	if cur.TraverseToPath(cn) == nil {
		return ErrPathNotFound
	}
	h.head = append(h.head, cn...)
	return nil
}

// CreateEntry adds node as a leaf child of the head folder and returns a copy
// of the new subtree. The snapshot is written before the lock is released.
// If only the snapshot fails, the entry stays in memory and is returned
// together with the error.
func (h *Handle) CreateEntry(ctx context.Context, node Node) (*Tree, error) {
	if !validName(node.Name) {
		return nil, OperationFailed("invalid name", nil)
	}
	if node.IsFolder() {
		node.ContentRef = ""
	}

	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := h.resolve()
	if cur == nil {
		return nil, ErrPathNotFound
	}
	if !cur.Node.IsFolder() {
		// Nothing can exist below a file.
		return nil, ErrPathNotFound
	}
	if cur.hasChild(node.Name) {
		return nil, OperationFailed("duplicate name", nil)
	}

	child := &Tree{Node: node, Children: []*Tree{}}
	cur.Children = append(cur.Children, child)
	s.size++

	return child.Clone(), s.persistLocked(ctx)
}

// DeleteEntry removes the subtree at the head and hands it back so the
// caller can release the content of every file in it. The head moves to the
// parent. As with CreateEntry, a snapshot failure returns the removed
// subtree along with the error.
func (h *Handle) DeleteEntry(ctx context.Context) (*Tree, error) {
	if len(h.head) == 0 {
		return nil, OperationFailed("cannot delete root", nil)
	}
	parentPath, name := h.head[:len(h.head)-1], h.head[len(h.head)-1]

	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.root.TraverseToPath(parentPath)
	if parent == nil || !parent.Node.IsFolder() {
		return nil, ErrPathNotFound
	}
	removed := parent.removeChild(name)
	if removed == nil {
		return nil, ErrPathNotFound
	}
	s.size -= removed.Count()
	h.head = slices.Clone(parentPath)

	return removed, s.persistLocked(ctx)
}
