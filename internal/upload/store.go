// Package upload implements the chunked upload assembly protocol: an in-memory
// registry of active upload sessions backed by exclusively-owned temp files,
// plus the concurrency limiter that bounds simultaneous protocol sends.
package upload

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/metrics"
)

const (
	uploadIDBytes = 16 // 128-bit random upload IDs: the ID is the capability
)

// Status represents the lifecycle state of an upload session.
type Status int

const (
	// StatusOpen accepts chunk writes.
	StatusOpen Status = iota
	// StatusAssembling means complete has begun; chunk writes are rejected.
	StatusAssembling
	// StatusCompleted means the file reached the protocol client.
	StatusCompleted
	// StatusFailed means assembly or the send failed.
	StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusAssembling:
		return "assembling"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session tracks partial receipt of a large file split into client-defined
// byte ranges. The backing temp file is exclusively owned by the session and
// deleted on every exit path.
type Session struct {
	ID           string
	FileName     string
	DeclaredSize int64
	MimeType     string
	TotalChunks  int
	FilePath     string
	CreatedAt    time.Time

	chunkSize    int64
	file         *os.File
	received     map[int]struct{}
	status       Status
	lastActivity time.Time
	mu           sync.Mutex
}

// Status returns the session's current lifecycle state.
func (s *Session) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// ReceivedCount returns how many distinct chunk indices have been received.
func (s *Session) ReceivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.received)
}

// missingChunks lists indices not yet received. Caller must hold s.mu.
func (s *Session) missingChunks() []int {
	var missing []int

	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := s.received[i]; !ok {
			missing = append(missing, i)
		}
	}

	return missing
}

// Store is the in-memory registry of active upload sessions.
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	dir     string
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Registry

	cleanupTicker  *time.Ticker
	cleanupStop    chan struct{}
	cleanupStopped chan struct{}
}

// NewStore creates an upload session store. Idle sessions older than ttl are
// reaped every cleanupInterval; their temp files are deleted with them.
func NewStore(dir string, ttl, cleanupInterval time.Duration, reg *metrics.Registry, logger *zap.Logger) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	s := &Store{
		sessions:       make(map[string]*Session),
		dir:            dir,
		ttl:            ttl,
		logger:         logger,
		metrics:        reg,
		cleanupTicker:  time.NewTicker(cleanupInterval),
		cleanupStop:    make(chan struct{}),
		cleanupStopped: make(chan struct{}),
	}

	go s.reapIdleSessions()

	return s
}

// Init allocates a fresh upload session and its backing temp file.
func (s *Store) Init(fileName string, declaredSize int64, mimeType string, totalChunks int) (*Session, error) {
	if totalChunks <= 0 {
		return nil, customerrors.NewValidationError(fmt.Sprintf("total_chunks must be positive, got %d", totalChunks)).
			WithComponent("upload")
	}

	if declaredSize < 0 {
		return nil, customerrors.NewValidationError("file_size must not be negative").
			WithComponent("upload")
	}

	id := generateUploadID()

	file, err := os.CreateTemp(s.dir, "cloudvault-upload-*.part")
	if err != nil {
		return nil, customerrors.Wrap(err, "failed to create upload temp file").
			WithComponent("upload")
	}

	// All chunks but the last are this size; index-addressed writes make
	// delivery order irrelevant.
	chunkSize := declaredSize / int64(totalChunks)
	if declaredSize%int64(totalChunks) != 0 {
		chunkSize++
	}

	now := time.Now()
	session := &Session{
		ID:           id,
		FileName:     filepath.Base(fileName),
		DeclaredSize: declaredSize,
		MimeType:     mimeType,
		TotalChunks:  totalChunks,
		FilePath:     file.Name(),
		CreatedAt:    now,
		chunkSize:    chunkSize,
		file:         file,
		received:     make(map[int]struct{}, totalChunks),
		status:       StatusOpen,
		lastActivity: now,
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	s.metrics.UploadSessionsActive.Inc()

	s.logger.Info("Upload session created",
		zap.String("upload_id", id),
		zap.String("file_name", session.FileName),
		zap.Int64("declared_size", declaredSize),
		zap.Int("total_chunks", totalChunks),
	)

	return session, nil
}

// Get returns a session by ID.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	session, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return nil, customerrors.NewNotFoundError("upload session").
			WithComponent("upload").
			WithContext("upload_id", id)
	}

	return session, nil
}

// WriteChunk writes chunk bytes at the index's byte offset and marks the index
// received. Duplicate indices are accepted idempotently (last write wins) since
// chunk retries are expected. Writes are rejected once the session leaves Open
// so a late retry cannot race with assembly.
func (s *Store) WriteChunk(id string, index int, data io.Reader) (int64, error) {
	session, err := s.Get(id)
	if err != nil {
		return 0, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.status != StatusOpen {
		return 0, customerrors.NewConflictError("upload session is no longer accepting chunks").
			WithComponent("upload").
			WithContext("upload_id", id).
			WithContext("status", session.status.String())
	}

	if index < 0 || index >= session.TotalChunks {
		return 0, customerrors.NewValidationError(
			fmt.Sprintf("chunk index %d out of range [0, %d)", index, session.TotalChunks)).
			WithComponent("upload").
			WithContext("upload_id", id)
	}

	offset := int64(index) * session.chunkSize

	written, err := writeAtFrom(session.file, data, offset)
	if err != nil {
		return 0, customerrors.Wrap(err, "failed to write chunk").
			WithComponent("upload").
			WithContext("upload_id", id).
			WithContext("chunk_index", index)
	}

	session.received[index] = struct{}{}
	session.lastActivity = time.Now()

	s.metrics.ChunksReceivedTotal.Inc()
	s.metrics.ChunkBytesTotal.Add(float64(written))

	return written, nil
}

// Begin transitions a session from Open to Assembling after verifying every
// chunk index was received. The returned session's temp file holds the
// assembled bytes; the caller must finish the session with Finish.
func (s *Store) Begin(id string) (*Session, error) {
	session, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.status != StatusOpen {
		return nil, customerrors.NewConflictError("upload session already completing").
			WithComponent("upload").
			WithContext("upload_id", id).
			WithContext("status", session.status.String())
	}

	if missing := session.missingChunks(); len(missing) > 0 {
		return nil, customerrors.NewValidationError(
			fmt.Sprintf("upload incomplete: %d of %d chunks missing", len(missing), session.TotalChunks)).
			WithComponent("upload").
			WithContext("upload_id", id).
			WithContext("missing_chunks", missing)
	}

	if err := session.file.Sync(); err != nil {
		return nil, customerrors.Wrap(err, "failed to flush assembled file").
			WithComponent("upload")
	}

	info, err := session.file.Stat()
	if err != nil {
		return nil, customerrors.Wrap(err, "failed to stat assembled file").
			WithComponent("upload")
	}

	// Guard against truncated writes before handing to the protocol client.
	if info.Size() == 0 {
		session.status = StatusFailed

		return nil, customerrors.NewValidationError("assembled file is empty").
			WithComponent("upload").
			WithContext("upload_id", id)
	}

	if info.Size() != session.DeclaredSize {
		s.logger.Warn("Assembled size differs from declared size",
			zap.String("upload_id", id),
			zap.Int64("declared", session.DeclaredSize),
			zap.Int64("assembled", info.Size()),
		)
	}

	session.status = StatusAssembling
	session.lastActivity = time.Now()

	return session, nil
}

// Reopen returns an Assembling session to Open after a retryable completion
// failure, so the caller can retry complete without replaying chunks.
func (s *Store) Reopen(id string) error {
	session, err := s.Get(id)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.status != StatusAssembling {
		return customerrors.NewConflictError("upload session is not assembling").
			WithComponent("upload").
			WithContext("upload_id", id).
			WithContext("status", session.status.String())
	}

	session.status = StatusOpen
	session.lastActivity = time.Now()

	return nil
}

// Finish consumes and destroys a session after a completion attempt. The temp
// file is deleted regardless of outcome.
func (s *Store) Finish(id string, success bool) {
	s.mu.Lock()
	session, exists := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !exists {
		return
	}

	session.mu.Lock()
	if success {
		session.status = StatusCompleted
	} else {
		session.status = StatusFailed
	}
	s.removeBackingFile(session)
	session.mu.Unlock()

	s.metrics.UploadSessionsActive.Dec()

	if success {
		s.metrics.UploadsCompleted.WithLabelValues("success").Inc()
	} else {
		s.metrics.UploadsCompleted.WithLabelValues("failure").Inc()
	}

	s.logger.Info("Upload session finished",
		zap.String("upload_id", id),
		zap.String("status", session.status.String()),
	)
}

// Close stops the reaper and removes all sessions and their temp files.
func (s *Store) Close() error {
	close(s.cleanupStop)

	select {
	case <-s.cleanupStopped:
	case <-time.After(5 * time.Second):
		s.logger.Warn("Upload reaper did not stop in time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, session := range s.sessions {
		session.mu.Lock()
		s.removeBackingFile(session)
		session.mu.Unlock()
		delete(s.sessions, id)
		s.metrics.UploadSessionsActive.Dec()
	}

	return nil
}

// ActiveCount returns the number of registered sessions.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

func (s *Store) reapIdleSessions() {
	defer close(s.cleanupStopped)
	defer s.cleanupTicker.Stop()

	for {
		select {
		case <-s.cleanupTicker.C:
			s.performReap()
		case <-s.cleanupStop:
			return
		}
	}
}

// performReap removes sessions with no chunk or complete activity within the
// TTL. Assembling sessions are left alone: the send watchdog bounds them.
func (s *Store) performReap() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Session

	for id, session := range s.sessions {
		session.mu.Lock()
		idle := session.status == StatusOpen && session.lastActivity.Before(cutoff)
		session.mu.Unlock()

		if idle {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		session.mu.Lock()
		session.status = StatusFailed
		s.removeBackingFile(session)
		session.mu.Unlock()

		s.metrics.UploadSessionsActive.Dec()
		s.metrics.UploadSessionsReaped.Inc()

		s.logger.Info("Reaped idle upload session",
			zap.String("upload_id", session.ID),
			zap.Time("last_activity", session.lastActivity),
		)
	}
}

// removeBackingFile closes and deletes the session temp file. Caller must hold
// the session mutex.
func (s *Store) removeBackingFile(session *Session) {
	if session.file != nil {
		if err := session.file.Close(); err != nil {
			s.logger.Warn("Failed to close upload temp file",
				zap.String("upload_id", session.ID),
				zap.Error(err))
		}

		session.file = nil
	}

	if err := os.Remove(session.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove upload temp file",
			zap.String("upload_id", session.ID),
			zap.String("path", session.FilePath),
			zap.Error(err))
	}
}

// writeAtFrom copies r to f starting at offset.
func writeAtFrom(f *os.File, r io.Reader, offset int64) (int64, error) {
	buf := make([]byte, 32*1024)

	var written int64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, writeErr := f.WriteAt(buf[:n], offset+written); writeErr != nil {
				return written, writeErr
			}

			written += int64(n)
		}

		if readErr == io.EOF {
			return written, nil
		}

		if readErr != nil {
			return written, readErr
		}
	}
}

// generateUploadID generates a random 128-bit hex upload ID.
func generateUploadID() string {
	buf := make([]byte, uploadIDBytes)
	if _, err := rand.Read(buf); err != nil {
		// Fallback to timestamp-based ID if random fails
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}

	return hex.EncodeToString(buf)
}
