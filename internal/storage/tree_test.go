package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := NewTree(t.TempDir(), NewResolver(0, 0))
	if err != nil {
		t.Fatalf("NewTree() error = %v", err)
	}
	return tree
}

func putFile(t *testing.T, tree *Tree, userID int64, path, content string) {
	t.Helper()
	if _, err := tree.Put(userID, path, strings.NewReader(content)); err != nil {
		t.Fatalf("Put(%q) error = %v", path, err)
	}
}

func TestTree_PutStatOpen(t *testing.T) {
	tree := newTestTree(t)

	info, err := tree.Put(1, "docs/readme.md", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Path != "docs/readme.md" {
		t.Errorf("Path = %q, want %q", info.Path, "docs/readme.md")
	}
	if info.Size != 5 {
		t.Errorf("Size = %d, want 5", info.Size)
	}

	st, err := tree.Stat(1, "docs/readme.md")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if st.Kind != KindFile || st.Size != 5 {
		t.Errorf("Stat() = %+v, want file of 5 bytes", st)
	}

	rc, _, err := tree.Open(1, "docs/readme.md")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want %q", data, "hello")
	}
}

func TestTree_PutReplacesExistingFile(t *testing.T) {
	tree := newTestTree(t)
	putFile(t, tree, 1, "a.txt", "old")
	putFile(t, tree, 1, "a.txt", "new content")

	rc, info, err := tree.Open(1, "a.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "new content" || info.Size != int64(len("new content")) {
		t.Errorf("content = %q (size %d), want %q", data, info.Size, "new content")
	}
}

func TestTree_PutOverFolderConflicts(t *testing.T) {
	tree := newTestTree(t)
	if err := tree.CreateFolder(1, "notes.txt"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	_, err := tree.Put(1, "notes.txt", strings.NewReader("x"))
	if !IsKind(err, KindConflict) {
		t.Fatalf("Put over folder error = %v, want %v", err, KindConflict)
	}
}

func TestTree_PutLeavesNoTempFiles(t *testing.T) {
	tree := newTestTree(t)
	putFile(t, tree, 1, "dir/f.bin", "payload")

	root, err := tree.UserRoot(1)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "dir"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".put-") {
			t.Errorf("temp file %q left behind", e.Name())
		}
	}
}

func TestTree_CreateFolder(t *testing.T) {
	tree := newTestTree(t)

	if err := tree.CreateFolder(1, "projects/2026/q1"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	st, err := tree.Stat(1, "projects/2026/q1")
	if err != nil || st.Kind != KindFolder {
		t.Fatalf("Stat() = %+v, %v; want folder", st, err)
	}

	if err := tree.CreateFolder(1, "projects/2026/q1"); !IsKind(err, KindConflict) {
		t.Errorf("duplicate CreateFolder error = %v, want %v", err, KindConflict)
	}

	putFile(t, tree, 1, "file.txt", "x")
	if err := tree.CreateFolder(1, "file.txt"); !IsKind(err, KindConflict) {
		t.Errorf("CreateFolder over file error = %v, want %v", err, KindConflict)
	}
}

func TestTree_List(t *testing.T) {
	tree := newTestTree(t)
	putFile(t, tree, 1, "dir/Zeta.txt", "z")
	putFile(t, tree, 1, "dir/alpha.txt", "a")
	if err := tree.CreateFolder(1, "dir/Beta"); err != nil {
		t.Fatal(err)
	}

	nodes, err := tree.List(1, "dir")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var names []string
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	want := []string{"alpha.txt", "Beta", "Zeta.txt"}
	if len(names) != len(want) {
		t.Fatalf("List() names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if _, err := tree.List(1, "missing"); !IsKind(err, KindNotFound) {
		t.Errorf("List(missing) error = %v, want %v", err, KindNotFound)
	}
	if _, err := tree.List(1, "dir/alpha.txt"); !IsKind(err, KindNotFound) {
		t.Errorf("List(file) error = %v, want %v", err, KindNotFound)
	}
}

func TestTree_TreeView(t *testing.T) {
	tree := newTestTree(t)
	putFile(t, tree, 1, "a/b/c.txt", "ccc")
	putFile(t, tree, 1, "a/d.txt", "d")

	root, err := tree.TreeView(1, "")
	if err != nil {
		t.Fatalf("TreeView() error = %v", err)
	}
	if root.Path != "" || root.Kind != KindFolder {
		t.Fatalf("root = %+v, want folder at root", root)
	}
	if len(root.Children) != 1 || root.Children[0].Name != "a" {
		t.Fatalf("root children = %+v, want [a]", root.Children)
	}
	a := root.Children[0]
	if len(a.Children) != 2 {
		t.Fatalf("a children = %+v, want 2 entries", a.Children)
	}
	if a.Children[0].Name != "b" || a.Children[0].Kind != KindFolder {
		t.Errorf("a/b = %+v, want folder b", a.Children[0])
	}
	if a.Children[1].Path != "a/d.txt" || a.Children[1].Size != 1 {
		t.Errorf("a/d.txt = %+v", a.Children[1])
	}
}

func TestTree_Delete(t *testing.T) {
	tree := newTestTree(t)
	putFile(t, tree, 1, "dir/sub/f.txt", "x")

	if err := tree.Delete(1, "dir"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := tree.Stat(1, "dir"); !IsKind(err, KindNotFound) {
		t.Errorf("Stat after delete error = %v, want %v", err, KindNotFound)
	}
	if err := tree.Delete(1, "dir"); !IsKind(err, KindNotFound) {
		t.Errorf("Delete(missing) error = %v, want %v", err, KindNotFound)
	}
}

func TestTree_Rename(t *testing.T) {
	tree := newTestTree(t)
	putFile(t, tree, 1, "old.txt", "data")

	if err := tree.Rename(1, "missing.txt", "x.txt"); !IsKind(err, KindNotFound) {
		t.Errorf("Rename(missing) error = %v, want %v", err, KindNotFound)
	}

	putFile(t, tree, 1, "taken.txt", "y")
	if err := tree.Rename(1, "old.txt", "taken.txt"); !IsKind(err, KindConflict) {
		t.Errorf("Rename to existing error = %v, want %v", err, KindConflict)
	}

	if err := tree.Rename(1, "old.txt", "new.txt"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, err := tree.Stat(1, "old.txt"); !IsKind(err, KindNotFound) {
		t.Errorf("old path still exists after rename")
	}
	if _, err := tree.Stat(1, "new.txt"); err != nil {
		t.Errorf("new path missing after rename: %v", err)
	}
}

func TestTree_Move(t *testing.T) {
	tree := newTestTree(t)
	putFile(t, tree, 1, "f.txt", "data")
	if err := tree.CreateFolder(1, "archive"); err != nil {
		t.Fatal(err)
	}

	if err := tree.Move(1, "f.txt", "nowhere"); !IsKind(err, KindNotFound) {
		t.Errorf("Move to missing folder error = %v, want %v", err, KindNotFound)
	}

	if err := tree.Move(1, "f.txt", "archive"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if _, err := tree.Stat(1, "archive/f.txt"); err != nil {
		t.Errorf("moved file missing: %v", err)
	}

	putFile(t, tree, 1, "g.txt", "g")
	putFile(t, tree, 1, "archive/g.txt", "other")
	if err := tree.Move(1, "g.txt", "archive"); !IsKind(err, KindConflict) {
		t.Errorf("Move onto existing error = %v, want %v", err, KindConflict)
	}
}

func TestTree_UserIsolation(t *testing.T) {
	tree := newTestTree(t)
	putFile(t, tree, 1, "shared.txt", "user one")
	putFile(t, tree, 2, "shared.txt", "user two")

	rc, _, err := tree.Open(1, "shared.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "user one" {
		t.Errorf("user 1 content = %q, want %q", data, "user one")
	}

	if err := tree.Delete(2, "shared.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Stat(1, "shared.txt"); err != nil {
		t.Errorf("user 1 file affected by user 2 delete: %v", err)
	}
}

func TestTree_TraversalDoesNotTouchFilesystem(t *testing.T) {
	tree := newTestTree(t)

	ops := []struct {
		name string
		run  func() error
	}{
		{"createFolder", func() error { return tree.CreateFolder(1, "../escape") }},
		{"put", func() error { _, err := tree.Put(1, "../escape.txt", strings.NewReader("x")); return err }},
		{"rename", func() error { return tree.Rename(1, "../a", "b") }},
		{"delete", func() error { return tree.Delete(1, "../a") }},
	}
	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			if err := op.run(); !IsKind(err, KindTraversal) {
				t.Fatalf("error = %v, want %v", err, KindTraversal)
			}
		})
	}

	// Nothing may have been created next to the storage dir.
	parent := filepath.Dir(tree.StorageDir())
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(tree.StorageDir()) {
			t.Errorf("unexpected entry %q outside storage dir", e.Name())
		}
	}
}

func TestTree_Usage(t *testing.T) {
	tree := newTestTree(t)
	putFile(t, tree, 1, "a.bin", strings.Repeat("x", 100))
	putFile(t, tree, 1, "d/b.bin", strings.Repeat("y", 50))

	bytesUsed, files, err := tree.Usage(1)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if bytesUsed != 150 || files != 2 {
		t.Errorf("Usage() = %d bytes, %d files; want 150, 2", bytesUsed, files)
	}
}

func TestTree_PutStreamsLargeBody(t *testing.T) {
	tree := newTestTree(t)
	payload := bytes.Repeat([]byte("abcdefgh"), 64*1024) // 512 KiB

	info, err := tree.Put(1, "big.bin", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", info.Size, len(payload))
	}
}
