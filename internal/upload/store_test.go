package upload

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/metrics"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()

	store := NewStore(t.TempDir(), ttl, 10*time.Millisecond, metrics.NewRegistry(), zap.NewNop())
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestStoreInitCreatesOpenSession(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("report.pdf", 100, "application/pdf", 4)
	require.NoError(t, err)

	assert.Len(t, session.ID, 32)
	assert.Equal(t, StatusOpen, session.CurrentStatus())
	assert.Equal(t, "report.pdf", session.FileName)
	assert.Equal(t, int64(25), session.chunkSize)
	assert.FileExists(t, session.FilePath)
}

func TestStoreInitStripsPathComponents(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("../../etc/passwd", 10, "text/plain", 1)
	require.NoError(t, err)
	assert.Equal(t, "passwd", session.FileName)
}

func TestStoreInitRejectsInvalidChunkCount(t *testing.T) {
	store := newTestStore(t, time.Hour)

	_, err := store.Init("f.bin", 100, "application/octet-stream", 0)
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeValidation, gatewayErr.Type)
}

func TestStoreOutOfOrderChunksAssemble(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 10, "application/octet-stream", 2)
	require.NoError(t, err)

	// Second half first, then the first half.
	_, err = store.WriteChunk(session.ID, 1, strings.NewReader("WORLD"))
	require.NoError(t, err)
	_, err = store.WriteChunk(session.ID, 0, strings.NewReader("HELLO"))
	require.NoError(t, err)

	assembled, err := store.Begin(session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssembling, assembled.CurrentStatus())

	data, err := os.ReadFile(assembled.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "HELLOWORLD", string(data))
}

func TestStoreDuplicateChunkIsIdempotent(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 5, "application/octet-stream", 1)
	require.NoError(t, err)

	_, err = store.WriteChunk(session.ID, 0, strings.NewReader("AAAAA"))
	require.NoError(t, err)
	_, err = store.WriteChunk(session.ID, 0, strings.NewReader("BBBBB"))
	require.NoError(t, err)

	assembled, err := store.Begin(session.ID)
	require.NoError(t, err)

	data, err := os.ReadFile(assembled.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "BBBBB", string(data))
}

func TestStoreBeginRejectsMissingChunks(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 10, "application/octet-stream", 2)
	require.NoError(t, err)

	_, err = store.WriteChunk(session.ID, 0, strings.NewReader("HELLO"))
	require.NoError(t, err)

	_, err = store.Begin(session.ID)
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeValidation, gatewayErr.Type)
	assert.Contains(t, gatewayErr.Message, "incomplete")

	// The session stays Open so the client can push the missing chunk.
	assert.Equal(t, StatusOpen, session.CurrentStatus())
}

func TestStoreChunkRejectedAfterBegin(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 5, "application/octet-stream", 1)
	require.NoError(t, err)

	_, err = store.WriteChunk(session.ID, 0, strings.NewReader("AAAAA"))
	require.NoError(t, err)

	_, err = store.Begin(session.ID)
	require.NoError(t, err)

	_, err = store.WriteChunk(session.ID, 0, strings.NewReader("BBBBB"))
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeConflict, gatewayErr.Type)
}

func TestStoreChunkIndexOutOfRange(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 10, "application/octet-stream", 2)
	require.NoError(t, err)

	_, err = store.WriteChunk(session.ID, 2, strings.NewReader("X"))
	require.Error(t, err)
	_, err = store.WriteChunk(session.ID, -1, strings.NewReader("X"))
	require.Error(t, err)
}

func TestStoreBeginRejectsEmptyFile(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 0, "application/octet-stream", 1)
	require.NoError(t, err)

	_, err = store.WriteChunk(session.ID, 0, bytes.NewReader(nil))
	require.NoError(t, err)

	_, err = store.Begin(session.ID)
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeValidation, gatewayErr.Type)
	assert.Equal(t, StatusFailed, session.CurrentStatus())
}

func TestStoreFinishRemovesSessionAndTempFile(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 5, "application/octet-stream", 1)
	require.NoError(t, err)

	_, err = store.WriteChunk(session.ID, 0, strings.NewReader("AAAAA"))
	require.NoError(t, err)
	_, err = store.Begin(session.ID)
	require.NoError(t, err)

	store.Finish(session.ID, true)

	assert.Equal(t, StatusCompleted, session.CurrentStatus())
	assert.NoFileExists(t, session.FilePath)
	assert.Equal(t, 0, store.ActiveCount())

	_, err = store.Get(session.ID)
	require.Error(t, err)
}

func TestStoreFinishOnFailureCleansUp(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 5, "application/octet-stream", 1)
	require.NoError(t, err)

	store.Finish(session.ID, false)

	assert.Equal(t, StatusFailed, session.CurrentStatus())
	assert.NoFileExists(t, session.FilePath)
}

func TestStoreReopenAllowsCompleteRetry(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 5, "application/octet-stream", 1)
	require.NoError(t, err)

	_, err = store.WriteChunk(session.ID, 0, strings.NewReader("AAAAA"))
	require.NoError(t, err)
	_, err = store.Begin(session.ID)
	require.NoError(t, err)

	require.NoError(t, store.Reopen(session.ID))
	assert.Equal(t, StatusOpen, session.CurrentStatus())

	// A second complete attempt works without replaying chunks.
	_, err = store.Begin(session.ID)
	require.NoError(t, err)
}

func TestStoreReopenRequiresAssembling(t *testing.T) {
	store := newTestStore(t, time.Hour)

	session, err := store.Init("f.bin", 5, "application/octet-stream", 1)
	require.NoError(t, err)

	err = store.Reopen(session.ID)
	require.Error(t, err)
}

func TestStoreGetUnknownSession(t *testing.T) {
	store := newTestStore(t, time.Hour)

	_, err := store.Get("no-such-session")
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeNotFound, gatewayErr.Type)
}

func TestStoreReapsIdleSessions(t *testing.T) {
	store := newTestStore(t, 20*time.Millisecond)

	session, err := store.Init("f.bin", 5, "application/octet-stream", 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return store.ActiveCount() == 0
	}, time.Second, 10*time.Millisecond)

	assert.NoFileExists(t, session.FilePath)
}

func TestStoreCloseRemovesAllSessions(t *testing.T) {
	store := NewStore(t.TempDir(), time.Hour, time.Minute, metrics.NewRegistry(), zap.NewNop())

	first, err := store.Init("a.bin", 5, "application/octet-stream", 1)
	require.NoError(t, err)
	second, err := store.Init("b.bin", 5, "application/octet-stream", 1)
	require.NoError(t, err)

	require.NoError(t, store.Close())

	assert.Equal(t, 0, store.ActiveCount())
	assert.NoFileExists(t, first.FilePath)
	assert.NoFileExists(t, second.FilePath)
}
