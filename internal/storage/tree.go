package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// Tree performs all read and write operations on user storage hierarchies.
// Every operation takes a user id and raw path(s) and validates them through
// the Resolver before touching the filesystem. A Tree owns no upload state;
// it is safe for concurrent use across distinct destinations.
type Tree struct {
	storageDir string
	resolver   *Resolver
}

// NewTree creates a Tree rooted at storageDir, creating it if needed.
func NewTree(storageDir string, resolver *Resolver) (*Tree, error) {
	abs, err := filepath.Abs(storageDir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &Tree{storageDir: abs, resolver: resolver}, nil
}

// StorageDir returns the absolute directory all user roots live under.
func (t *Tree) StorageDir() string { return t.storageDir }

// UserRoot returns the absolute root directory for a user, creating it
// lazily on first access. Roots are never shared between users.
func (t *Tree) UserRoot(userID int64) (string, error) {
	root := filepath.Join(t.storageDir, fmt.Sprintf("user_%d", userID))
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", wrapError(KindIO, "userRoot", "", err)
	}
	return root, nil
}

// Resolve validates raw against the user's root. Exposed so the upload
// manager can pin a destination once at session-open time.
func (t *Tree) Resolve(userID int64, raw string) (*ResolvedPath, error) {
	root, err := t.UserRoot(userID)
	if err != nil {
		return nil, err
	}
	return t.resolver.Resolve(root, raw)
}

// List returns the direct children of a folder, ordered case-insensitively
// by name. Fails with KindNotFound if the path is missing or not a folder.
func (t *Tree) List(userID int64, raw string) ([]*Node, error) {
	const op = "list"
	p, err := t.Resolve(userID, raw)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p.Abs())
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
			return nil, newError(KindNotFound, op, p.Rel())
		}
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	nodes := make([]*Node, 0, len(entries))
	for _, e := range entries {
		n, err := childNode(p.Rel(), e)
		if err != nil {
			continue // entry vanished mid-listing
		}
		nodes = append(nodes, n)
	}
	sortNodes(nodes)
	return nodes, nil
}

// TreeView returns the full recursive folder tree rooted at raw. This is the
// read model the UI renders; it is rebuilt from directory contents on every
// call. A missing path yields an empty root node rather than an error, so a
// fresh user sees an empty tree.
func (t *Tree) TreeView(userID int64, raw string) (*Node, error) {
	const op = "tree"
	p, err := t.Resolve(userID, raw)
	if err != nil {
		return nil, err
	}
	root := &Node{Name: p.Base(), Path: p.Rel(), Kind: KindFolder, Children: []*Node{}}
	if _, err := os.Stat(p.Abs()); err != nil {
		if os.IsNotExist(err) {
			return root, nil
		}
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	if err := t.scanDir(p.Abs(), p.Rel(), root); err != nil {
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	return root, nil
}

func (t *Tree) scanDir(abs, rel string, node *Node) error {
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsPermission(err) {
			return nil // unreadable folders render empty
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})
	for _, e := range entries {
		child, err := childNode(rel, e)
		if err != nil {
			continue
		}
		if child.Kind == KindFolder {
			child.Children = []*Node{}
			if err := t.scanDir(filepath.Join(abs, e.Name()), child.Path, child); err != nil {
				return err
			}
		}
		node.Children = append(node.Children, child)
	}
	return nil
}

// CreateFolder creates a folder at raw, with intermediate folders as needed.
// Fails with KindConflict if any node already exists at raw.
func (t *Tree) CreateFolder(userID int64, raw string) error {
	const op = "createFolder"
	p, err := t.Resolve(userID, raw)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return newError(KindMalformed, op, "")
	}
	if _, err := os.Lstat(p.Abs()); err == nil {
		return newError(KindConflict, op, p.Rel())
	}
	if err := os.MkdirAll(p.Abs(), 0755); err != nil {
		if errors.Is(err, syscall.ENOTDIR) || os.IsExist(err) {
			return newError(KindConflict, op, p.Rel())
		}
		return wrapError(KindIO, op, p.Rel(), err)
	}
	return nil
}

// Delete removes the node at raw, recursively for folders.
// Fails with KindNotFound if nothing exists there.
func (t *Tree) Delete(userID int64, raw string) error {
	const op = "delete"
	p, err := t.Resolve(userID, raw)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return newError(KindMalformed, op, "")
	}
	if _, err := os.Lstat(p.Abs()); err != nil {
		if os.IsNotExist(err) {
			return newError(KindNotFound, op, p.Rel())
		}
		return wrapError(KindIO, op, p.Rel(), err)
	}
	if err := os.RemoveAll(p.Abs()); err != nil {
		return wrapError(KindIO, op, p.Rel(), err)
	}
	return nil
}

// Rename moves the node at oldRaw to newRaw within the same user root using
// a single rename syscall, never copy-then-delete. Fails with KindNotFound
// if the source is absent and KindConflict if the destination exists.
func (t *Tree) Rename(userID int64, oldRaw, newRaw string) error {
	const op = "rename"
	src, err := t.Resolve(userID, oldRaw)
	if err != nil {
		return err
	}
	dst, err := t.Resolve(userID, newRaw)
	if err != nil {
		return err
	}
	if src.IsRoot() || dst.IsRoot() {
		return newError(KindMalformed, op, "")
	}
	if _, err := os.Lstat(src.Abs()); err != nil {
		if os.IsNotExist(err) {
			return newError(KindNotFound, op, src.Rel())
		}
		return wrapError(KindIO, op, src.Rel(), err)
	}
	if _, err := os.Lstat(dst.Abs()); err == nil {
		return newError(KindConflict, op, dst.Rel())
	}
	if err := os.Rename(src.Abs(), dst.Abs()); err != nil {
		switch {
		case os.IsNotExist(err):
			return newError(KindNotFound, op, dst.Rel())
		case os.IsExist(err) || errors.Is(err, syscall.ENOTEMPTY):
			return newError(KindConflict, op, dst.Rel())
		}
		return wrapError(KindIO, op, dst.Rel(), err)
	}
	return nil
}

// Move relocates the node at oldRaw into the folder at folderRaw, keeping
// its name. The destination folder must already exist.
func (t *Tree) Move(userID int64, oldRaw, folderRaw string) error {
	const op = "move"
	src, err := t.Resolve(userID, oldRaw)
	if err != nil {
		return err
	}
	if src.IsRoot() {
		return newError(KindMalformed, op, "")
	}
	dir, err := t.Resolve(userID, folderRaw)
	if err != nil {
		return err
	}
	info, err := os.Stat(dir.Abs())
	if err != nil {
		if os.IsNotExist(err) {
			return newError(KindNotFound, op, dir.Rel())
		}
		return wrapError(KindIO, op, dir.Rel(), err)
	}
	if !info.IsDir() {
		return newError(KindNotFound, op, dir.Rel())
	}
	newRaw := src.Base()
	if !dir.IsRoot() {
		newRaw = dir.Rel() + "/" + src.Base()
	}
	return t.Rename(userID, oldRaw, newRaw)
}

// Put writes the bytes from r to raw atomically: data goes to a temporary
// sibling file first and is renamed over the destination, so a concurrent
// reader observes either the prior state or the complete new file, never a
// partial write. Existing files are replaced; a folder at raw is a conflict.
func (t *Tree) Put(userID int64, raw string, r io.Reader) (*NodeInfo, error) {
	const op = "put"
	p, err := t.Resolve(userID, raw)
	if err != nil {
		return nil, err
	}
	return t.PutResolved(p, r)
}

// PutResolved is Put for a destination that was already validated. The
// upload manager pins destinations at session-open time and commits through
// this entry point at finalize.
func (t *Tree) PutResolved(p *ResolvedPath, r io.Reader) (*NodeInfo, error) {
	const op = "put"
	if p.IsRoot() {
		return nil, newError(KindMalformed, op, "")
	}
	if info, err := os.Lstat(p.Abs()); err == nil && info.IsDir() {
		return nil, newError(KindConflict, op, p.Rel())
	}

	dir := filepath.Dir(p.Abs())
	if err := os.MkdirAll(dir, 0755); err != nil {
		if errors.Is(err, syscall.ENOTDIR) {
			return nil, newError(KindConflict, op, p.Rel())
		}
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	if err := tmp.Close(); err != nil {
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	if err := os.Rename(tmpPath, p.Abs()); err != nil {
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	success = true

	info, err := os.Stat(p.Abs())
	if err != nil {
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	return &NodeInfo{Path: p.Rel(), Kind: KindFile, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Stat returns metadata for the node at raw.
func (t *Tree) Stat(userID int64, raw string) (*NodeInfo, error) {
	const op = "stat"
	p, err := t.Resolve(userID, raw)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p.Abs())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(KindNotFound, op, p.Rel())
		}
		return nil, wrapError(KindIO, op, p.Rel(), err)
	}
	return nodeInfo(p.Rel(), info), nil
}

// Open opens the file at raw for reading, for downloads.
// Folders are reported as KindNotFound, matching the download contract.
func (t *Tree) Open(userID int64, raw string) (io.ReadCloser, *NodeInfo, error) {
	const op = "open"
	p, err := t.Resolve(userID, raw)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(p.Abs())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, newError(KindNotFound, op, p.Rel())
		}
		return nil, nil, wrapError(KindIO, op, p.Rel(), err)
	}
	if info.IsDir() {
		return nil, nil, newError(KindNotFound, op, p.Rel())
	}
	f, err := os.Open(p.Abs())
	if err != nil {
		return nil, nil, wrapError(KindIO, op, p.Rel(), err)
	}
	return f, nodeInfo(p.Rel(), info), nil
}

// Usage walks the user's root and returns total bytes and file count.
func (t *Tree) Usage(userID int64) (bytes int64, files int, err error) {
	root, err := t.UserRoot(userID)
	if err != nil {
		return 0, 0, err
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			if os.IsNotExist(werr) || os.IsPermission(werr) {
				return nil
			}
			return werr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		bytes += info.Size()
		files++
		return nil
	})
	if err != nil {
		return 0, 0, wrapError(KindIO, "usage", "", err)
	}
	return bytes, files, nil
}

func childNode(parentRel string, e fs.DirEntry) (*Node, error) {
	info, err := e.Info()
	if err != nil {
		return nil, err
	}
	rel := e.Name()
	if parentRel != "" {
		rel = parentRel + "/" + e.Name()
	}
	n := &Node{Name: e.Name(), Path: rel, ModTime: info.ModTime()}
	if e.IsDir() {
		n.Kind = KindFolder
	} else {
		n.Kind = KindFile
		n.Size = info.Size()
	}
	return n, nil
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
}

func nodeInfo(rel string, info fs.FileInfo) *NodeInfo {
	kind := KindFile
	if info.IsDir() {
		kind = KindFolder
	}
	return &NodeInfo{Path: rel, Kind: kind, Size: info.Size(), ModTime: info.ModTime()}
}
