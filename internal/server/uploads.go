package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
)

// handleUploadSmall is the single-request upload path. The body is a
// multipart form with one "file" part; the destination folder comes from
// the "p" query parameter and the filename from the part itself, so the
// file can be streamed to the tree without buffering the whole body.
func (s *Server) handleUploadSmall(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	folder := r.URL.Query().Get("p")

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form data")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := path.Base(part.FileName())
		if name == "." || name == "/" || name == "" {
			part.Close()
			writeError(w, http.StatusBadRequest, "file part has no filename")
			return
		}

		info, err := s.svc.UploadSmall(user.ID, path.Join(folder, name), part)
		part.Close()
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, info)
		return
	}

	writeError(w, http.StatusBadRequest, "missing file part")
}

func (s *Server) handleBeginUpload(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	var req struct {
		Dest  string `json:"dest"`
		Total int    `json:"total"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.svc.BeginUpload(user.ID, req.Dest, req.Total)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleWriteChunk(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk index must be an integer")
		return
	}
	if r.ContentLength > s.maxChunkBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "chunk exceeds size limit")
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxChunkBytes)
	if err := s.svc.WriteChunk(user.ID, r.PathValue("id"), index, body); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFinishUpload(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	// The body is optional: clients that declared the total at begin time
	// send no body at all.
	var req struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	info, err := s.svc.FinishUpload(user.ID, r.PathValue("id"), req.Total)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAbortUpload(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	if err := s.svc.AbortUpload(user.ID, r.PathValue("id")); err != nil {
		s.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
