package storage

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"cloudstore/internal/staging"
	"cloudstore/internal/testutil"
)

// recordingLogger captures warn-level messages so tests can assert that
// security events are flagged.
type recordingLogger struct {
	NopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) warned(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warns {
		if w == msg {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T, logger Logger) *Service {
	t.Helper()
	tree, err := NewTree(t.TempDir(), NewResolver(0, 0))
	if err != nil {
		t.Fatalf("NewTree() error = %v", err)
	}
	stage, err := staging.NewArea(t.TempDir())
	if err != nil {
		t.Fatalf("NewArea() error = %v", err)
	}
	mgr := NewUploadManager(tree, stage, testutil.FixedClock(), testutil.NewStubIDGenerator(), logger, 30*time.Minute)
	return NewService(tree, mgr, logger)
}

func TestService_UploadSmall(t *testing.T) {
	svc := newTestService(t, NewNopLogger())

	info, err := svc.UploadSmall(1, "notes.txt", strings.NewReader("jot"))
	if err != nil {
		t.Fatalf("UploadSmall() error = %v", err)
	}
	if info.Path != "notes.txt" || info.Size != 3 {
		t.Errorf("info = %+v, want notes.txt of 3 bytes", info)
	}

	rc, _, err := svc.Open(1, "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "jot" {
		t.Errorf("content = %q, want %q", data, "jot")
	}
}

func TestService_UploadSmallOverFolderConflicts(t *testing.T) {
	svc := newTestService(t, NewNopLogger())

	if err := svc.CreateFolder(1, "notes.txt"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.UploadSmall(1, "notes.txt", strings.NewReader("x"))
	if !IsKind(err, KindConflict) {
		t.Fatalf("UploadSmall over folder error = %v, want %v", err, KindConflict)
	}
}

func TestService_TraversalIsFlagged(t *testing.T) {
	logger := &recordingLogger{}
	svc := newTestService(t, logger)

	_, err := svc.UploadSmall(7, "../../etc/passwd", strings.NewReader("x"))
	if !IsKind(err, KindTraversal) {
		t.Fatalf("UploadSmall(traversal) error = %v, want %v", err, KindTraversal)
	}
	if !logger.warned("path traversal rejected") {
		t.Error("traversal attempt not flagged as security event")
	}
}

func TestService_UnknownSessionProbeIsFlagged(t *testing.T) {
	logger := &recordingLogger{}
	svc := newTestService(t, logger)

	err := svc.WriteChunk(7, "not-a-session", 0, strings.NewReader("x"))
	if !IsKind(err, KindNotFound) {
		t.Fatalf("WriteChunk(unknown session) error = %v, want %v", err, KindNotFound)
	}
	if !logger.warned("unknown upload session") {
		t.Error("unknown-session probe not flagged")
	}
}

func TestService_ChunkedRoundTrip(t *testing.T) {
	svc := newTestService(t, NewNopLogger())

	id, err := svc.BeginUpload(1, "reports/q1.csv", 3)
	if err != nil {
		t.Fatalf("BeginUpload() error = %v", err)
	}
	for _, idx := range []int{1, 0, 2} {
		payload := strings.Repeat(string(rune('0'+idx)), 4)
		if err := svc.WriteChunk(1, id, idx, strings.NewReader(payload)); err != nil {
			t.Fatalf("WriteChunk(%d) error = %v", idx, err)
		}
	}
	info, err := svc.FinishUpload(1, id, 0)
	if err != nil {
		t.Fatalf("FinishUpload() error = %v", err)
	}
	if info.Path != "reports/q1.csv" || info.Size != 12 {
		t.Errorf("info = %+v, want reports/q1.csv of 12 bytes", info)
	}

	rc, _, err := svc.Open(1, "reports/q1.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "000011112222" {
		t.Errorf("content = %q, want %q", data, "000011112222")
	}
}
