package storage

import (
	"io"
)

// Service is the facade the API layer talks to. It bundles the tree, the
// upload manager, and the single-shot upload path, and flags path-traversal
// attempts and unknown-session probes for the monitoring side before
// propagating the typed error unchanged.
type Service struct {
	tree    *Tree
	uploads *UploadManager
	logger  Logger
}

// NewService creates a Service.
func NewService(tree *Tree, uploads *UploadManager, logger Logger) *Service {
	return &Service{tree: tree, uploads: uploads, logger: logger}
}

// Tree exposes the underlying storage tree.
func (s *Service) Tree() *Tree { return s.tree }

// Uploads exposes the underlying upload manager.
func (s *Service) Uploads() *UploadManager { return s.uploads }

// audit flags security-relevant failures. Traversal attempts are never
// ordinary client errors; unknown-session results on chunk operations may
// indicate probing for other users' sessions.
func (s *Service) audit(op string, userID int64, err error) error {
	switch KindOf(err) {
	case KindTraversal:
		s.logger.Warn("path traversal rejected", "op", op, "user", userID)
	case KindNotFound:
		switch op {
		case "writeChunk", "finishUpload", "abortUpload":
			s.logger.Warn("unknown upload session", "op", op, "user", userID)
		}
	}
	return err
}

// UploadSmall is the non-chunked upload path for payloads that arrive as a
// single body. It validates the destination once and delegates to the
// tree's atomic put, so it carries the same atomicity guarantee as a
// one-chunk session.
func (s *Service) UploadSmall(userID int64, rawDest string, r io.Reader) (*NodeInfo, error) {
	info, err := s.tree.Put(userID, rawDest, r)
	if err != nil {
		return nil, s.audit("uploadSmall", userID, err)
	}
	s.logger.Info("file uploaded", "user", userID, "path", info.Path, "size", info.Size)
	return info, nil
}

// BeginUpload opens a chunked upload session. total may be 0 when the
// client will declare the chunk count at finish time.
func (s *Service) BeginUpload(userID int64, rawDest string, total int) (string, error) {
	id, err := s.uploads.Begin(userID, rawDest, total)
	if err != nil {
		return "", s.audit("beginUpload", userID, err)
	}
	return id, nil
}

// WriteChunk stages one chunk of an open session.
func (s *Service) WriteChunk(userID int64, sessionID string, index int, r io.Reader) error {
	return s.audit("writeChunk", userID, s.uploads.WriteChunk(userID, sessionID, index, r))
}

// FinishUpload reassembles and commits a session.
func (s *Service) FinishUpload(userID int64, sessionID string, total int) (*NodeInfo, error) {
	info, err := s.uploads.Finish(userID, sessionID, total)
	if err != nil {
		return nil, s.audit("finishUpload", userID, err)
	}
	return info, nil
}

// AbortUpload discards a session and its staged chunks.
func (s *Service) AbortUpload(userID int64, sessionID string) error {
	return s.audit("abortUpload", userID, s.uploads.Abort(userID, sessionID))
}

// ListTree returns the direct children of a folder.
func (s *Service) ListTree(userID int64, raw string) ([]*Node, error) {
	nodes, err := s.tree.List(userID, raw)
	if err != nil {
		return nil, s.audit("listTree", userID, err)
	}
	return nodes, nil
}

// TreeView returns the recursive folder tree for the UI.
func (s *Service) TreeView(userID int64, raw string) (*Node, error) {
	node, err := s.tree.TreeView(userID, raw)
	if err != nil {
		return nil, s.audit("treeView", userID, err)
	}
	return node, nil
}

// CreateFolder creates a folder, with intermediate folders as needed.
func (s *Service) CreateFolder(userID int64, raw string) error {
	return s.audit("createFolder", userID, s.tree.CreateFolder(userID, raw))
}

// Delete removes a file or folder, recursively for folders.
func (s *Service) Delete(userID int64, raw string) error {
	return s.audit("delete", userID, s.tree.Delete(userID, raw))
}

// Rename moves a node to a new path within the same user root.
func (s *Service) Rename(userID int64, oldRaw, newRaw string) error {
	return s.audit("rename", userID, s.tree.Rename(userID, oldRaw, newRaw))
}

// Move relocates a node into another folder, keeping its name.
func (s *Service) Move(userID int64, oldRaw, folderRaw string) error {
	return s.audit("move", userID, s.tree.Move(userID, oldRaw, folderRaw))
}

// Stat returns metadata for one node.
func (s *Service) Stat(userID int64, raw string) (*NodeInfo, error) {
	info, err := s.tree.Stat(userID, raw)
	if err != nil {
		return nil, s.audit("stat", userID, err)
	}
	return info, nil
}

// Open opens a file for download.
func (s *Service) Open(userID int64, raw string) (io.ReadCloser, *NodeInfo, error) {
	rc, info, err := s.tree.Open(userID, raw)
	if err != nil {
		return nil, nil, s.audit("open", userID, err)
	}
	return rc, info, nil
}

// Usage returns total bytes and file count for one user.
func (s *Service) Usage(userID int64) (int64, int, error) {
	return s.tree.Usage(userID)
}
