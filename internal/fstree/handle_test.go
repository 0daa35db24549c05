package fstree

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"
)

// recordingSink counts snapshots and can be told to fail.
type recordingSink struct {
	mu    sync.Mutex
	count int
	last  *Tree
	err   error
}

func (s *recordingSink) Persist(_ context.Context, root *Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.count++
	s.last = root.Clone()
	return nil
}

func TestHandleScenario(t *testing.T) {
	ctx := context.Background()
	root := NewRoot()
	root.Children = append(root.Children, &Tree{Node: NewFile("hello.txt", "r1.txt")})
	sink := &recordingSink{}
	h := NewStore(root, sink).Handle()

	if err := h.ChangeHead(nil); err != nil {
		t.Fatalf("ChangeHead([]): %v", err)
	}

	docs, err := h.CreateEntry(ctx, NewFolder("docs"))
	if err != nil {
		t.Fatalf("create docs: %v", err)
	}
	if docs.Node.Name != "docs" || len(docs.Children) != 0 {
		t.Errorf("unexpected created tree %+v", docs)
	}

	if err := h.ChangeHead([]string{"docs"}); err != nil {
		t.Fatalf("ChangeHead(docs): %v", err)
	}
	if _, err := h.CreateEntry(ctx, NewFile("a.txt", "r2.txt")); err != nil {
		t.Fatalf("create a.txt: %v", err)
	}

	children, err := h.ListChildren()
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Name != "a.txt" || children[0].Kind != File {
		t.Errorf("ListChildren = %+v, want [a.txt File]", children)
	}

	if err := h.ChangeHead([]string{"missing"}); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("ChangeHead(missing) err = %v, want ErrPathNotFound", err)
	}
	if !slices.Equal(h.Head(), []string{"docs"}) {
		t.Errorf("head = %q, want [docs]", h.Head())
	}

	if sink.count != 2 {
		t.Errorf("snapshots = %d, want 2", sink.count)
	}
	if sink.last.TraverseToPath([]string{"docs", "a.txt"}) == nil {
		t.Error("last snapshot is missing docs/a.txt")
	}
}

func TestGetAndTree(t *testing.T) {
	h := NewStore(sampleTree(), nil).Handle()

	n, err := h.Get()
	if err != nil || n.Name != RootName {
		t.Fatalf("Get at root = %+v, %v", n, err)
	}

	if err := h.ChangeHead([]string{"I", "am"}); err != nil {
		t.Fatal(err)
	}
	sub, err := h.Tree()
	if err != nil {
		t.Fatal(err)
	}
	if sub.Node.Name != "am" || sub.TraverseToPath([]string{"thor", "success.txt"}) == nil {
		t.Errorf("unexpected subtree %+v", sub)
	}

	// The returned subtree is a copy.
	sub.Children = nil
	if again, _ := h.Tree(); len(again.Children) != 1 {
		t.Error("mutating the returned subtree changed the store")
	}
}

func TestListChildrenOfFile(t *testing.T) {
	h := NewStore(sampleTree(), nil).Handle()
	if err := h.ChangeHead([]string{"hello.txt"}); err != nil {
		t.Fatal(err)
	}
	children, err := h.ListChildren()
	if err != nil {
		t.Fatalf("ListChildren on file: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("file children = %d, want 0", len(children))
	}
}

func TestChangeHeadRelativeAndCanonical(t *testing.T) {
	h := NewStore(sampleTree(), nil).Handle()

	if err := h.ChangeHead([]string{"I", "x", ".."}); err != nil {
		t.Fatal(err)
	}
	if err := h.ChangeHead([]string{" am ", ".", "thor"}); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(h.Head(), []string{"I", "am", "thor"}) {
		t.Errorf("head = %q", h.Head())
	}

	// Descending through a file is not found.
	h.ResetHead()
	if err := h.ChangeHead([]string{"hello.txt", "x"}); !IsNotFound(err) {
		t.Errorf("through file err = %v, want not found", err)
	}
	if len(h.Head()) != 0 {
		t.Errorf("head moved to %q after failure", h.Head())
	}
}

func TestStaleHead(t *testing.T) {
	ctx := context.Background()
	store := NewStore(sampleTree(), nil)
	a := store.Handle()
	b := store.Handle()

	if err := a.ChangeHead([]string{"I", "am"}); err != nil {
		t.Fatal(err)
	}
	if err := b.ChangeHead([]string{"I"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.DeleteEntry(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Get(); !IsNotFound(err) {
		t.Errorf("Get on deleted head err = %v", err)
	}
	if _, err := a.ListChildren(); !IsNotFound(err) {
		t.Errorf("ListChildren on deleted head err = %v", err)
	}
	if _, err := a.Tree(); !IsNotFound(err) {
		t.Errorf("Tree on deleted head err = %v", err)
	}
	if err := a.ChangeHead(nil); !IsNotFound(err) {
		t.Errorf("ChangeHead on deleted head err = %v", err)
	}
	if _, err := a.CreateEntry(ctx, NewFolder("x")); !IsNotFound(err) {
		t.Errorf("CreateEntry on deleted head err = %v", err)
	}
	if _, err := a.DeleteEntry(ctx); !IsNotFound(err) {
		t.Errorf("DeleteEntry on deleted head err = %v", err)
	}
}

func TestCreateEntryDuplicateLeavesTreeUnchanged(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	store := NewStore(sampleTree(), sink)
	h := store.Handle()

	if _, err := h.CreateEntry(ctx, NewFolder("docs")); err != nil {
		t.Fatal(err)
	}
	before := store.Snapshot()
	size := store.Size()

	_, err := h.CreateEntry(ctx, NewFile("docs", "ref"))
	if !IsOperationFailed(err) {
		t.Fatalf("duplicate err = %v, want OperationFailed", err)
	}
	if !store.Snapshot().Equal(before) {
		t.Error("tree changed after failed duplicate create")
	}
	if store.Size() != size {
		t.Errorf("size = %d, want %d", store.Size(), size)
	}
	if sink.count != 1 {
		t.Errorf("snapshots = %d, want 1", sink.count)
	}
}

func TestCreateEntryRejects(t *testing.T) {
	ctx := context.Background()
	h := NewStore(sampleTree(), nil).Handle()

	for _, name := range []string{"", ".", "..", "a/b"} {
		if _, err := h.CreateEntry(ctx, NewFolder(name)); !IsOperationFailed(err) {
			t.Errorf("CreateEntry(%q) err = %v, want OperationFailed", name, err)
		}
	}

	if err := h.ChangeHead([]string{"hello.txt"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.CreateEntry(ctx, NewFolder("inside")); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("create under file err = %v, want ErrPathNotFound", err)
	}
}

// ctxSink fails the way a context-aware backend does when its context is done.
type ctxSink struct {
	recordingSink
}

func (s *ctxSink) Persist(ctx context.Context, root *Tree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("persist without deadline")
	}
	return s.recordingSink.Persist(ctx, root)
}

func TestMutationsPersistAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &ctxSink{}
	store := NewStore(nil, sink)
	h := store.Handle()

	if _, err := h.CreateEntry(ctx, NewFolder("docs")); err != nil {
		t.Fatalf("CreateEntry with cancelled ctx: %v", err)
	}
	if sink.count != 1 || sink.last.TraverseToPath([]string{"docs"}) == nil {
		t.Fatalf("snapshot missing docs after create, count = %d", sink.count)
	}

	if err := h.ChangeHead([]string{"docs"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.DeleteEntry(ctx); err != nil {
		t.Fatalf("DeleteEntry with cancelled ctx: %v", err)
	}
	if sink.count != 2 || sink.last.TraverseToPath([]string{"docs"}) != nil {
		t.Fatalf("snapshot still has docs after delete, count = %d", sink.count)
	}

	if err := store.Persist(ctx); err != nil {
		t.Fatalf("Persist with cancelled ctx: %v", err)
	}
	if store.Size() != 1 || sink.count != 3 {
		t.Errorf("size = %d, snapshots = %d", store.Size(), sink.count)
	}
}

func TestCreatedEntriesAreReachable(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, nil)

	paths := [][]string{
		{"a"},
		{"a", "b"},
		{"a", "b", "c.txt"},
		{"x"},
		{"x", "y.bin"},
	}
	for _, p := range paths {
		h := store.Handle()
		if err := h.ChangeHead(p[:len(p)-1]); err != nil {
			t.Fatalf("ChangeHead(%q): %v", p[:len(p)-1], err)
		}
		if _, err := h.CreateEntry(ctx, NewFolder(p[len(p)-1])); err != nil {
			t.Fatalf("create %q: %v", p, err)
		}
	}

	root := store.Snapshot()
	for _, p := range paths {
		raw := append([]string{".", ""}, p...)
		got := root.TraverseToPath(Canonicalize(raw))
		if got == nil || got.Node.Name != p[len(p)-1] {
			t.Errorf("path %q did not resolve", p)
		}
	}
	if store.Size() != len(paths)+1 {
		t.Errorf("Size = %d, want %d", store.Size(), len(paths)+1)
	}
}

func TestDeleteEntryReturnsAllFiles(t *testing.T) {
	ctx := context.Background()
	store := NewStore(sampleTree(), nil)
	h := store.Handle()

	if err := h.ChangeHead([]string{"I"}); err != nil {
		t.Fatal(err)
	}
	want := fileRefs(store.Snapshot().TraverseToPath([]string{"I"}))

	removed, err := h.DeleteEntry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := fileRefs(removed)
	if !slices.Equal(got, want) {
		t.Errorf("removed files = %q, want %q", got, want)
	}

	if store.Snapshot().TraverseToPath([]string{"I"}) != nil {
		t.Error("I still present after delete")
	}
	if len(h.Head()) != 0 {
		t.Errorf("head = %q, want parent (root)", h.Head())
	}
	if store.Size() != 2 {
		t.Errorf("Size = %d, want 2", store.Size())
	}
}

func TestDeleteRoot(t *testing.T) {
	h := NewStore(sampleTree(), nil).Handle()
	if _, err := h.DeleteEntry(context.Background()); !IsOperationFailed(err) {
		t.Errorf("delete root err = %v, want OperationFailed", err)
	}
}

func TestSnapshotFailureKeepsMutation(t *testing.T) {
	ctx := context.Background()
	sinkErr := errors.New("disk full")
	sink := &recordingSink{err: sinkErr}
	store := NewStore(nil, sink)
	h := store.Handle()

	created, err := h.CreateEntry(ctx, NewFolder("docs"))
	if !IsOperationFailed(err) || !errors.Is(err, sinkErr) {
		t.Fatalf("err = %v, want OperationFailed wrapping sink error", err)
	}
	if created == nil || created.Node.Name != "docs" {
		t.Errorf("created = %+v", created)
	}
	if store.Snapshot().TraverseToPath([]string{"docs"}) == nil {
		t.Error("in-memory mutation was rolled back")
	}

	if err := h.ChangeHead([]string{"docs"}); err != nil {
		t.Fatal(err)
	}
	removed, err := h.DeleteEntry(ctx)
	if !errors.Is(err, sinkErr) || removed == nil {
		t.Errorf("delete = %v, %v", removed, err)
	}
}

func TestConcurrentCreateDistinctNames(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	store := NewStore(nil, sink)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := store.Handle()
			_, err := h.CreateEntry(ctx, NewFolder(fmt.Sprintf("dir-%02d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("create: %v", err)
		}
	}
	children, _ := store.Handle().ListChildren()
	if len(children) != n {
		t.Errorf("children = %d, want %d", len(children), n)
	}
	if sink.count != n {
		t.Errorf("snapshots = %d, want %d", sink.count, n)
	}
	if len(sink.last.Children) != n {
		t.Errorf("last snapshot has %d children, want %d", len(sink.last.Children), n)
	}
}

func TestConcurrentCreateSameName(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, nil)

	const n = 2
	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := store.Handle()
			<-start
			_, err := h.CreateEntry(ctx, NewFolder("same"))
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var ok, failed int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case IsOperationFailed(err):
			failed++
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 || failed != 1 {
		t.Errorf("ok=%d failed=%d, want 1 and 1", ok, failed)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	store := NewStore(sampleTree(), &recordingSink{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			h := store.Handle()
			if err := h.ChangeHead([]string{"I"}); err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 20; j++ {
				name := fmt.Sprintf("w%d-%d", i, j)
				if _, err := h.CreateEntry(ctx, NewFolder(name)); err != nil {
					t.Error(err)
				}
			}
		}(i)
		go func() {
			defer wg.Done()
			h := store.Handle()
			for j := 0; j < 50; j++ {
				if _, err := h.Tree(); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	children, err := func() ([]Node, error) {
		h := store.Handle()
		if err := h.ChangeHead([]string{"I"}); err != nil {
			return nil, err
		}
		return h.ListChildren()
	}()
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2+8*20 {
		t.Errorf("children = %d, want %d", len(children), 2+8*20)
	}
}

func fileRefs(t *Tree) []string {
	var refs []string
	for _, f := range t.Files() {
		refs = append(refs, f.ContentRef)
	}
	sort.Strings(refs)
	return refs
}
