// Package staging stores chunk payloads for in-flight upload sessions,
// outside the visible storage tree so a partially assembled upload never
// appears in listings.
//
// Directory structure:
//
//	<staging_dir>/
//	  <session_id>/
//	    0, 1, 2, ...   (one file per chunk index)
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Area is a filesystem-backed chunk store. Methods are safe for concurrent
// use across distinct (session, index) pairs; writes to the same index are
// last-write-wins, which the upload manager documents as the retry contract.
type Area struct {
	dir string
}

// NewArea creates a staging area rooted at dir, creating it if needed.
func NewArea(dir string) (*Area, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving staging dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	return &Area{dir: abs}, nil
}

func (a *Area) sessionDir(sessionID string) string {
	return filepath.Join(a.dir, sessionID)
}

func (a *Area) chunkPath(sessionID string, index int) string {
	return filepath.Join(a.sessionDir(sessionID), strconv.Itoa(index))
}

// WriteChunk stages the bytes from r as chunk index of the given session,
// replacing any previously staged bytes for that index. The chunk lands via
// a temp file and rename, so a retried write can never leave a torn chunk.
// Returns the number of bytes staged.
func (a *Area) WriteChunk(sessionID string, index int, r io.Reader) (int64, error) {
	dir := a.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp chunk: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing chunk: %w", err)
	}
	if err := os.Rename(tmpPath, a.chunkPath(sessionID, index)); err != nil {
		return 0, fmt.Errorf("committing chunk: %w", err)
	}
	success = true
	return n, nil
}

// ChunkSize returns the staged size of one chunk.
func (a *Area) ChunkSize(sessionID string, index int) (int64, error) {
	info, err := os.Stat(a.chunkPath(sessionID, index))
	if err != nil {
		return 0, fmt.Errorf("stat chunk %d: %w", index, err)
	}
	return info.Size(), nil
}

// Assemble returns a reader that streams chunks 0..total-1 of the session in
// ascending index order, opening one chunk file at a time so arbitrarily
// large uploads never reside in memory. The caller must Close it.
func (a *Area) Assemble(sessionID string, total int) (io.ReadCloser, error) {
	for i := 0; i < total; i++ {
		if _, err := os.Stat(a.chunkPath(sessionID, i)); err != nil {
			return nil, fmt.Errorf("chunk %d not staged: %w", i, err)
		}
	}
	return &chunkReader{area: a, sessionID: sessionID, total: total}, nil
}

// Remove discards all staged bytes for a session. Removing a session that
// was never written to is a no-op.
func (a *Area) Remove(sessionID string) error {
	if err := os.RemoveAll(a.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("removing session staging: %w", err)
	}
	return nil
}

// Sessions lists the session ids that still have staged data on disk. Used
// by the startup sweep to reclaim staging left behind by a previous process.
func (a *Area) Sessions() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("reading staging dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// chunkReader streams a session's chunks in index order.
type chunkReader struct {
	area      *Area
	sessionID string
	total     int
	next      int
	cur       *os.File
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= r.total {
				return 0, io.EOF
			}
			f, err := os.Open(r.area.chunkPath(r.sessionID, r.next))
			if err != nil {
				return 0, fmt.Errorf("opening chunk %d: %w", r.next, err)
			}
			r.cur = f
			r.next++
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			if cerr := r.cur.Close(); cerr != nil {
				return n, cerr
			}
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *chunkReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}
