package storage

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"cloudstore/internal/staging"
)

// DefaultIdleTimeout is how long an upload session may sit without chunk
// activity before the sweeper evicts it.
const DefaultIdleTimeout = 30 * time.Minute

type sessionState int

const (
	// stateReceiving covers a session from open until finalize begins;
	// chunk writes are only accepted in this state.
	stateReceiving sessionState = iota
	stateFinalizing
	stateCompleted
	stateAborted
)

// session tracks one in-progress chunked upload. The destination is resolved
// once at open time and never re-derived. mu guards the mutable fields; io
// is held shared for the duration of each chunk's staging write and
// exclusively by finalize/abort, so finalize never races a chunk write.
type session struct {
	id      string
	userID  int64
	dest    *ResolvedPath
	created time.Time

	mu         sync.Mutex
	io         sync.RWMutex
	state      sessionState
	total      int // declared chunk count; 0 until declared
	received   map[int]struct{}
	highest    int
	lastActive time.Time
}

type destKey struct {
	userID int64
	rel    string
}

// UploadManager owns the table of in-flight upload sessions. It is the only
// shared mutable structure in the storage core; everything else lives on the
// filesystem. Safe for concurrent use.
type UploadManager struct {
	tree        *Tree
	stage       *staging.Area
	clock       Clock
	idgen       IDGenerator
	logger      Logger
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	byDest   map[destKey]string
}

// NewUploadManager creates an UploadManager. A non-positive idleTimeout
// falls back to DefaultIdleTimeout.
func NewUploadManager(tree *Tree, stage *staging.Area, clock Clock, idgen IDGenerator, logger Logger, idleTimeout time.Duration) *UploadManager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &UploadManager{
		tree:        tree,
		stage:       stage,
		clock:       clock,
		idgen:       idgen,
		logger:      logger,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*session),
		byDest:      make(map[destKey]string),
	}
}

// Begin opens an upload session for the given destination. total may be 0
// if the client will declare the chunk count at finish time. Fails with
// KindConflict if another active session already targets the same
// destination, or if a folder occupies it.
func (m *UploadManager) Begin(userID int64, rawDest string, total int) (string, error) {
	const op = "beginUpload"

	if total < 0 {
		return "", newError(KindInvalid, op, "")
	}
	dest, err := m.tree.Resolve(userID, rawDest)
	if err != nil {
		return "", err
	}
	if dest.IsRoot() {
		return "", newError(KindMalformed, op, "")
	}
	if info, err := os.Lstat(dest.Abs()); err == nil && info.IsDir() {
		return "", newError(KindConflict, op, dest.Rel())
	}

	now := m.clock.Now()
	s := &session{
		id:         m.idgen.New(),
		userID:     userID,
		dest:       dest,
		created:    now,
		total:      total,
		received:   make(map[int]struct{}),
		highest:    -1,
		lastActive: now,
	}

	key := destKey{userID: userID, rel: dest.Rel()}

	// Check-and-insert under one lock so two concurrent opens for the same
	// destination cannot both succeed.
	m.mu.Lock()
	if _, busy := m.byDest[key]; busy {
		m.mu.Unlock()
		return "", newError(KindConflict, op, dest.Rel())
	}
	m.sessions[s.id] = s
	m.byDest[key] = s.id
	m.mu.Unlock()

	m.logger.Debug("upload session opened", "session", s.id, "user", userID, "dest", dest.Rel(), "total", total)
	return s.id, nil
}

// lookup fetches a session by id, enforcing ownership. A session belonging
// to another user is indistinguishable from a missing one.
func (m *UploadManager) lookup(op string, userID int64, sessionID string) (*session, error) {
	m.mu.Lock()
	s := m.sessions[sessionID]
	m.mu.Unlock()
	if s == nil || s.userID != userID {
		return nil, newError(KindNotFound, op, "")
	}
	return s, nil
}

// WriteChunk stages the bytes from r as the given chunk index. Writes to
// distinct indices of one session may proceed in parallel; rewriting an
// index replaces the prior bytes (last write wins), which makes client
// retries idempotent. Fails with KindInvalid if the index is negative,
// exceeds a declared total, or the session is no longer receiving.
func (m *UploadManager) WriteChunk(userID int64, sessionID string, index int, r io.Reader) error {
	const op = "writeChunk"

	s, err := m.lookup(op, userID, sessionID)
	if err != nil {
		return err
	}

	s.io.RLock()
	defer s.io.RUnlock()

	s.mu.Lock()
	switch {
	case s.state != stateReceiving:
		s.mu.Unlock()
		return newError(KindInvalid, op, "")
	case index < 0:
		s.mu.Unlock()
		return newError(KindInvalid, op, "")
	case s.total > 0 && index >= s.total:
		s.mu.Unlock()
		return newError(KindInvalid, op, "")
	}
	s.lastActive = m.clock.Now()
	s.mu.Unlock()

	if _, err := m.stage.WriteChunk(s.id, index, r); err != nil {
		return wrapError(KindIO, op, s.dest.Rel(), err)
	}

	s.mu.Lock()
	s.received[index] = struct{}{}
	if index > s.highest {
		s.highest = index
	}
	s.lastActive = m.clock.Now()
	s.mu.Unlock()
	return nil
}

// Finish reassembles the session's chunks in ascending index order and
// commits the result atomically to the destination. total must be supplied
// here if it was not declared at open time; the first declared total is
// authoritative and a differing one fails with KindInvalid. Missing chunks
// fail with KindIncomplete and leave everything untouched. If the commit
// itself fails the session stays receiving with its chunks retained, so the
// client may retry finish without re-uploading.
func (m *UploadManager) Finish(userID int64, sessionID string, total int) (*NodeInfo, error) {
	const op = "finishUpload"

	s, err := m.lookup(op, userID, sessionID)
	if err != nil {
		return nil, err
	}

	// Exclusive: waits out in-flight chunk writes, and blocks new ones
	// until the state flips below.
	s.io.Lock()
	defer s.io.Unlock()

	s.mu.Lock()
	if s.state != stateReceiving {
		s.mu.Unlock()
		return nil, newError(KindInvalid, op, "")
	}
	switch {
	case s.total == 0 && total <= 0:
		s.mu.Unlock()
		return nil, newError(KindIncomplete, op, s.dest.Rel())
	case s.total == 0:
		s.total = total
	case total > 0 && total != s.total:
		s.mu.Unlock()
		return nil, newError(KindInvalid, op, "")
	}
	want := s.total
	if s.highest >= want {
		s.mu.Unlock()
		return nil, newError(KindInvalid, op, "")
	}
	for i := 0; i < want; i++ {
		if _, ok := s.received[i]; !ok {
			s.mu.Unlock()
			return nil, newError(KindIncomplete, op, s.dest.Rel())
		}
	}
	s.state = stateFinalizing
	s.lastActive = m.clock.Now()
	s.mu.Unlock()

	info, err := m.assemble(s, want)
	if err != nil {
		// Destination untouched; keep chunks so finish can be retried.
		s.mu.Lock()
		s.state = stateReceiving
		s.lastActive = m.clock.Now()
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.state = stateCompleted
	s.mu.Unlock()
	m.drop(s)

	if err := m.stage.Remove(s.id); err != nil {
		m.logger.Error("removing staged chunks after finish", "session", s.id, "error", err)
	}

	m.logger.Info("upload finished", "session", s.id, "user", userID, "dest", s.dest.Rel(), "size", info.Size)
	return info, nil
}

func (m *UploadManager) assemble(s *session, total int) (*NodeInfo, error) {
	rc, err := m.stage.Assemble(s.id, total)
	if err != nil {
		return nil, wrapError(KindIO, "finishUpload", s.dest.Rel(), err)
	}
	defer rc.Close()
	return m.tree.PutResolved(s.dest, rc)
}

// Abort discards a session and all its staged chunks; the destination is
// untouched. Fails with KindNotFound if the session id is unknown, already
// terminal, or owned by another user.
func (m *UploadManager) Abort(userID int64, sessionID string) error {
	const op = "abortUpload"

	s, err := m.lookup(op, userID, sessionID)
	if err != nil {
		return err
	}

	s.io.Lock()
	defer s.io.Unlock()

	s.mu.Lock()
	if s.state != stateReceiving {
		s.mu.Unlock()
		return newError(KindNotFound, op, "")
	}
	s.state = stateAborted
	s.mu.Unlock()

	m.drop(s)
	if err := m.stage.Remove(s.id); err != nil {
		m.logger.Error("removing staged chunks after abort", "session", s.id, "error", err)
	}
	m.logger.Debug("upload aborted", "session", s.id, "user", userID, "dest", s.dest.Rel())
	return nil
}

// drop removes a session from the table and releases its destination
// reservation.
func (m *UploadManager) drop(s *session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	delete(m.byDest, destKey{userID: s.userID, rel: s.dest.Rel()})
	m.mu.Unlock()
}

// Active returns the number of in-flight sessions.
func (m *UploadManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle aborts sessions whose last activity is older than the idle
// timeout. Returns the number of sessions evicted.
func (m *UploadManager) EvictIdle() int {
	cutoff := m.clock.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	candidates := make([]*session, 0)
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.state == stateReceiving && s.lastActive.Before(cutoff) {
			candidates = append(candidates, s)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	evicted := 0
	for _, s := range candidates {
		s.io.Lock()
		s.mu.Lock()
		// Re-check: a chunk may have arrived since the scan.
		if s.state != stateReceiving || !s.lastActive.Before(cutoff) {
			s.mu.Unlock()
			s.io.Unlock()
			continue
		}
		s.state = stateAborted
		s.mu.Unlock()

		m.drop(s)
		if err := m.stage.Remove(s.id); err != nil {
			m.logger.Error("removing staged chunks after eviction", "session", s.id, "error", err)
		}
		s.io.Unlock()

		m.logger.Info("idle upload session evicted", "session", s.id, "user", s.userID, "dest", s.dest.Rel())
		evicted++
	}
	return evicted
}

// SweepOrphans removes staging directories that belong to no live session,
// reclaiming space left behind by a previous process. Call once at startup.
func (m *UploadManager) SweepOrphans() error {
	ids, err := m.stage.Sessions()
	if err != nil {
		return err
	}
	m.mu.Lock()
	var orphans []string
	for _, id := range ids {
		if _, live := m.sessions[id]; !live {
			orphans = append(orphans, id)
		}
	}
	m.mu.Unlock()

	for _, id := range orphans {
		if err := m.stage.Remove(id); err != nil {
			return err
		}
		m.logger.Info("orphaned upload staging removed", "session", id)
	}
	return nil
}

// Run evicts idle sessions periodically until ctx is cancelled. The sweep
// interval is a quarter of the idle timeout.
func (m *UploadManager) Run(ctx context.Context) {
	interval := m.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}
