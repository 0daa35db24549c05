package fstree

import (
	"encoding/json"
	"testing"

	"github.com/fruitsalade/aftp/pkg/protocol"
)

// sampleTree builds:
//
//	root/
//	  hello.txt
//	  I/
//	    ok
//	    am/
//	      thor/
//	        success.txt
func sampleTree() *Tree {
	return &Tree{Node: NewFolder(RootName), Children: []*Tree{
		{Node: NewFile("hello.txt", "r-hello.txt")},
		{Node: NewFolder("I"), Children: []*Tree{
			{Node: NewFile("ok", "r-ok")},
			{Node: NewFolder("am"), Children: []*Tree{
				{Node: NewFolder("thor"), Children: []*Tree{
					{Node: NewFile("success.txt", "r-success.txt")},
				}},
			}},
		}},
	}}
}

func TestTraverseToPath(t *testing.T) {
	root := sampleTree()

	tests := []struct {
		path []string
		want string // "" means not found
	}{
		{nil, RootName},
		{[]string{"hello.txt"}, "hello.txt"},
		{[]string{"I", "am", "thor"}, "thor"},
		{[]string{"I", "am", "thor", "success.txt"}, "success.txt"},
		{[]string{"I", "missing"}, ""},
		{[]string{"hello.txt", "anything"}, ""},
		{[]string{"I", "ok", "x"}, ""},
	}
	for _, tt := range tests {
		got := root.TraverseToPath(tt.path)
		if tt.want == "" {
			if got != nil {
				t.Errorf("TraverseToPath(%q) = %q, want nil", tt.path, got.Node.Name)
			}
			continue
		}
		if got == nil || got.Node.Name != tt.want {
			t.Errorf("TraverseToPath(%q) = %v, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	root := sampleTree()
	cp := root.Clone()
	if !cp.Equal(root) {
		t.Fatal("clone differs from original")
	}

	cp.TraverseToPath([]string{"I"}).Children = nil
	if root.TraverseToPath([]string{"I", "ok"}) == nil {
		t.Error("mutating the clone changed the original")
	}
	if cp.Equal(root) {
		t.Error("Equal should notice the removed children")
	}
}

func TestCountAndFiles(t *testing.T) {
	root := sampleTree()
	if got := root.Count(); got != 7 {
		t.Errorf("Count = %d, want 7", got)
	}
	if got := (*Tree)(nil).Count(); got != 0 {
		t.Errorf("nil Count = %d, want 0", got)
	}

	files := root.TraverseToPath([]string{"I"}).Files()
	if len(files) != 2 {
		t.Fatalf("Files under I = %d, want 2", len(files))
	}
	if files[0].Name != "ok" || files[1].Name != "success.txt" {
		t.Errorf("unexpected files %+v", files)
	}
}

func TestFlatten(t *testing.T) {
	flat := sampleTree().Flatten()
	if flat.Meta.Name != RootName || flat.EntryType != protocol.EntryFolder {
		t.Errorf("unexpected meta %+v / %s", flat.Meta, flat.EntryType)
	}
	want := []protocol.FlatItem{
		{Name: "hello.txt", EntryType: protocol.EntryFile},
		{Name: "I", EntryType: protocol.EntryFolder},
	}
	if len(flat.SubEntries) != len(want) {
		t.Fatalf("got %d sub entries, want %d", len(flat.SubEntries), len(want))
	}
	for i := range want {
		if flat.SubEntries[i] != want[i] {
			t.Errorf("sub entry %d = %+v, want %+v", i, flat.SubEntries[i], want[i])
		}
	}

	leaf := (&Tree{Node: NewFile("x.bin", "ref")}).Flatten()
	if leaf.EntryType != protocol.EntryFile || len(leaf.SubEntries) != 0 {
		t.Errorf("file flatten = %+v", leaf)
	}
}

func TestTreeJSONRoundTrip(t *testing.T) {
	root := sampleTree()
	data, err := json.Marshal(root)
	if err != nil {
		t.Fatal(err)
	}
	var back Tree
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Equal(root) {
		t.Errorf("round trip changed tree: %s", data)
	}
}

func TestKindUnmarshalRejectsUnknown(t *testing.T) {
	var n Node
	err := json.Unmarshal([]byte(`{"name":"x","kind":"Symlink"}`), &n)
	if err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestNodeUnmarshalRequiresKind(t *testing.T) {
	tests := []struct {
		doc     string
		wantErr bool
	}{
		{`{"name":"x","kind":"Folder"}`, false},
		{`{"name":"x","kind":"File","content_ref":"r"}`, false},
		{`{"name":"x"}`, true},
		{`{"name":"x","kind":null}`, true},
	}
	for _, tt := range tests {
		var n Node
		err := json.Unmarshal([]byte(tt.doc), &n)
		if (err != nil) != tt.wantErr {
			t.Errorf("Unmarshal(%s) error = %v, wantErr %v", tt.doc, err, tt.wantErr)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := sampleTree().Validate(); err != nil {
		t.Fatalf("sample tree: %v", err)
	}
	if err := NewRoot().Validate(); err != nil {
		t.Fatalf("empty root: %v", err)
	}

	tests := []struct {
		name string
		tree *Tree
	}{
		{"nil", nil},
		{"nameless root", &Tree{}},
		{"duplicate", &Tree{Node: NewFolder(RootName), Children: []*Tree{
			{Node: NewFolder("a")}, {Node: NewFile("a", "r")},
		}}},
		{"file with children", &Tree{Node: NewFolder(RootName), Children: []*Tree{
			{Node: NewFile("f", "r"), Children: []*Tree{{Node: NewFolder("x")}}},
		}}},
		{"file without ref", &Tree{Node: NewFolder(RootName), Children: []*Tree{
			{Node: NewFile("f", "")},
		}}},
		{"dotdot", &Tree{Node: NewFolder(RootName), Children: []*Tree{{Node: NewFolder("..")}}}},
		{"slash", &Tree{Node: NewFolder(RootName), Children: []*Tree{{Node: NewFolder("a/b")}}}},
		{"nil child", &Tree{Node: NewFolder(RootName), Children: []*Tree{nil}}},
		{"deep duplicate", &Tree{Node: NewFolder(RootName), Children: []*Tree{
			{Node: NewFolder("d"), Children: []*Tree{{Node: NewFolder("x")}, {Node: NewFolder("x")}}},
		}}},
	}
	for _, tt := range tests {
		if err := tt.tree.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tt.name)
		}
	}
}
