package server

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"

	"cloudstore/internal/storage"
)

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	node, err := s.svc.TreeView(user.ID, r.URL.Query().Get("p"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	nodes, err := s.svc.ListTree(user.ID, r.URL.Query().Get("p"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if nodes == nil {
		nodes = []*storage.Node{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.CreateFolder(user.ID, req.Path); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.Rename(user.ID, req.From, req.To); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	var req struct {
		From   string `json:"from"`
		Folder string `json:"folder"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.Move(user.ID, req.From, req.Folder); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.Delete(user.ID, req.Path); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	rc, info, err := s.svc.Open(user.ID, r.URL.Query().Get("p"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	defer rc.Close()

	name := path.Base(info.Path)
	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	io.Copy(w, rc)
}

type userStats struct {
	Username string `json:"username"`
	Bytes    int64  `json:"bytes"`
	Files    int    `json:"files"`
}

type statsResponse struct {
	Usage userStats          `json:"usage"`
	Disk  *storage.DiskUsage `json:"disk"`
	Users []userStats        `json:"users,omitempty"` // admins only
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	bytes, files, err := s.svc.Usage(user.ID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	resp := statsResponse{
		Usage: userStats{Username: user.Username, Bytes: bytes, Files: files},
	}

	disk, err := storage.DiskStats(s.svc.Tree().StorageDir())
	if err != nil {
		s.logger.Warn("disk stats unavailable", "error", err)
	} else {
		resp.Disk = disk
	}

	if user.IsAdmin {
		users, err := s.users.ListUsers()
		if err != nil {
			s.logger.Error("user listing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		for _, u := range users {
			b, f, err := s.svc.Usage(u.ID)
			if err != nil {
				s.logger.Warn("usage scan failed", "user", u.ID, "error", err)
				continue
			}
			resp.Users = append(resp.Users, userStats{Username: u.Username, Bytes: b, Files: f})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
