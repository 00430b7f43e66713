package storage

import "time"

// NodeKind discriminates files from folders.
type NodeKind string

const (
	KindFile   NodeKind = "file"
	KindFolder NodeKind = "folder"
)

// Node is a live view over one entry of a user's storage tree. It is built
// fresh for every listing call and never cached; the filesystem's own
// metadata is the single source of truth.
type Node struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"` // normalized relative path
	Kind     NodeKind  `json:"type"`
	Size     int64     `json:"size,omitempty"`
	ModTime  time.Time `json:"mtime,omitempty"`
	Children []*Node   `json:"children,omitempty"` // folders only, ordered by name
}

// NodeInfo is the metadata returned for a single node, e.g. after an upload
// completes or from a stat call.
type NodeInfo struct {
	Path    string    `json:"path"` // normalized relative path
	Kind    NodeKind  `json:"type"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}
