package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/config"
	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/metrics"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/upload"
)

// fakeClient is a scriptable protocol client for manager tests.
type fakeClient struct {
	mu           sync.Mutex
	updates      chan Event
	startCalls   int
	startErr     error
	resolveFails int
	loadCalls    int
	submits      []SendRequest
	submitErr    error
	script       func(operationID string, req SendRequest)
	fetchBody    []byte
	fetchTotal   int64
	fetchErr     error
	deleted      []int64
	evictPolicy  *EvictionPolicy
	evictStats   StorageStats
	evictErr     error
	closeCalls   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{updates: make(chan Event, 64)}
}

func (f *fakeClient) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++

	return f.startErr
}

func (f *fakeClient) Updates() <-chan Event { return f.updates }

func (f *fakeClient) ResolveChat(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolveFails > 0 {
		f.resolveFails--

		return errors.New("chat not found")
	}

	return nil
}

func (f *fakeClient) LoadKnownChats(ctx context.Context, limit int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++

	return nil
}

func (f *fakeClient) Submit(ctx context.Context, req SendRequest) (string, error) {
	f.mu.Lock()

	if f.submitErr != nil {
		err := f.submitErr
		f.mu.Unlock()

		return "", err
	}

	f.submits = append(f.submits, req)
	operationID := fmt.Sprintf("op-%d", len(f.submits))
	script := f.script
	f.mu.Unlock()

	if script != nil {
		go script(operationID, req)
	}

	return operationID, nil
}

func (f *fakeClient) Fetch(ctx context.Context, req FetchRequest) (io.ReadCloser, int64, error) {
	if f.fetchErr != nil {
		return nil, 0, f.fetchErr
	}

	body := f.fetchBody
	if req.Offset > 0 {
		body = body[req.Offset:]
	}

	if req.Limit > 0 && int64(len(body)) > req.Limit {
		body = body[:req.Limit]
	}

	return io.NopCloser(bytes.NewReader(body)), f.fetchTotal, nil
}

func (f *fakeClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)

	return nil
}

func (f *fakeClient) OptimizeStorage(ctx context.Context, policy EvictionPolicy) (StorageStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictPolicy = &policy

	return f.evictStats, f.evictErr
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++

	return nil
}

func (f *fakeClient) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.submits)
}

func newTestManager(t *testing.T, fake *fakeClient) *Manager {
	t.Helper()

	return NewManager(
		fake,
		config.RelayConfig{ChannelID: -100123, AuthTimeout: 2 * time.Second},
		WatchdogConfig{Base: time.Second, Max: time.Second, Idle: time.Second},
		upload.NewConcurrencyLimiter(2),
		metrics.NewRegistry(),
		zap.NewNop(),
	)
}

func TestManagerAcquireAuthenticatesOnce(t *testing.T) {
	fake := newFakeClient()
	m := newTestManager(t, fake)

	require.NoError(t, m.Acquire(context.Background()))
	require.NoError(t, m.Acquire(context.Background()))

	assert.Equal(t, 1, fake.startCalls)
	assert.True(t, m.Ready())
}

func TestManagerAcquireResolvesViaBulkChatLoad(t *testing.T) {
	fake := newFakeClient()
	fake.resolveFails = 1
	m := newTestManager(t, fake)

	require.NoError(t, m.Acquire(context.Background()))
	assert.Equal(t, 1, fake.loadCalls)
}

func TestManagerAcquireConfigErrorWhenChannelUnresolvable(t *testing.T) {
	fake := newFakeClient()
	fake.resolveFails = 2
	m := newTestManager(t, fake)

	err := m.Acquire(context.Background())
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeConfig, gatewayErr.Type)
	assert.False(t, m.Ready())
}

func TestManagerAcquireLoginFailure(t *testing.T) {
	fake := newFakeClient()
	fake.startErr = errors.New("PHONE_NUMBER_INVALID")
	m := newTestManager(t, fake)

	err := m.Acquire(context.Background())
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeUpstream, gatewayErr.Type)
}

func TestManagerShutdownClosesOnceAndReauthenticates(t *testing.T) {
	fake := newFakeClient()
	m := newTestManager(t, fake)

	require.NoError(t, m.Acquire(context.Background()))
	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())

	assert.Equal(t, 1, fake.closeCalls)
	assert.False(t, m.Ready())

	require.NoError(t, m.Acquire(context.Background()))
	assert.Equal(t, 2, fake.startCalls)
}

func TestManagerSendSuccess(t *testing.T) {
	fake := newFakeClient()
	fake.script = func(operationID string, req SendRequest) {
		fake.updates <- Event{Kind: EventProgress, OperationID: operationID, Uploaded: 5, Total: 10}
		fake.updates <- Event{
			Kind:        EventSucceeded,
			OperationID: operationID,
			Record: &RemoteFileRecord{
				RemoteFileID: "remote-abc",
				LocalFileID:  41,
				MessageID:    900,
				Size:         10,
			},
		}
	}
	m := newTestManager(t, fake)

	record, err := m.Send(context.Background(), SendSpec{
		FilePath: "/tmp/f.bin",
		FileName: "f.bin",
		MimeType: "application/pdf",
		Size:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, "remote-abc", record.RemoteFileID)
	assert.Equal(t, int64(900), record.MessageID)

	require.Equal(t, 1, fake.submitCount())
	assert.Equal(t, ShapeDocument, fake.submits[0].Shape)
	assert.Equal(t, int64(-100123), fake.submits[0].ChatID)
}

func TestManagerSendMediaFallbackToDocument(t *testing.T) {
	fake := newFakeClient()
	fake.script = func(operationID string, req SendRequest) {
		if req.Shape == ShapeVideo {
			fake.updates <- Event{
				Kind:        EventFailed,
				OperationID: operationID,
				Err:         errors.New("provider error 400: VIDEO_CONTENT_TYPE_INVALID"),
			}

			return
		}

		fake.updates <- Event{
			Kind:        EventSucceeded,
			OperationID: operationID,
			Record:      &RemoteFileRecord{RemoteFileID: "remote-doc"},
		}
	}
	m := newTestManager(t, fake)

	record, err := m.Send(context.Background(), SendSpec{
		FilePath: "/tmp/clip.bin",
		FileName: "clip.bin",
		MimeType: "video/mp4",
		Size:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, "remote-doc", record.RemoteFileID)

	require.Equal(t, 2, fake.submitCount())
	assert.Equal(t, ShapeVideo, fake.submits[0].Shape)
	assert.Equal(t, ShapeDocument, fake.submits[1].Shape)
}

func TestManagerSendNoFallbackForOtherFailures(t *testing.T) {
	fake := newFakeClient()
	fake.script = func(operationID string, req SendRequest) {
		fake.updates <- Event{
			Kind:        EventFailed,
			OperationID: operationID,
			Err:         errors.New("internal server error"),
		}
	}
	m := newTestManager(t, fake)

	_, err := m.Send(context.Background(), SendSpec{MimeType: "video/mp4", Size: 10})
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeUpstream, gatewayErr.Type)
	assert.Equal(t, 1, fake.submitCount())
}

func TestManagerSendFloodWaitTranslated(t *testing.T) {
	fake := newFakeClient()
	fake.script = func(operationID string, req SendRequest) {
		fake.updates <- Event{
			Kind:        EventFailed,
			OperationID: operationID,
			Err:         errors.New("provider error 429: FLOOD_WAIT_42"),
		}
	}
	m := newTestManager(t, fake)

	_, err := m.Send(context.Background(), SendSpec{MimeType: "application/pdf", Size: 10})
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeRateLimit, gatewayErr.Type)
	assert.Equal(t, 42, customerrors.RetryAfterSeconds(err))
}

func TestManagerSendStalledWithoutEvents(t *testing.T) {
	fake := newFakeClient()
	m := NewManager(
		fake,
		config.RelayConfig{ChannelID: -100123, AuthTimeout: 2 * time.Second},
		WatchdogConfig{Base: time.Second, Max: time.Second, Idle: 30 * time.Millisecond},
		upload.NewConcurrencyLimiter(1),
		metrics.NewRegistry(),
		zap.NewNop(),
	)

	_, err := m.Send(context.Background(), SendSpec{MimeType: "application/pdf", Size: 10})
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeStalled, gatewayErr.Type)
}

func TestManagerFetchRange(t *testing.T) {
	fake := newFakeClient()
	fake.fetchBody = []byte("0123456789")
	fake.fetchTotal = 10
	m := newTestManager(t, fake)

	body, total, err := m.Fetch(context.Background(), FetchRequest{
		RemoteFileID: "remote-abc",
		Offset:       2,
		Limit:        4,
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))
	assert.Equal(t, int64(10), total)
}

func TestManagerFetchNotFound(t *testing.T) {
	fake := newFakeClient()
	fake.fetchErr = errors.New("400 invalid remote id")
	m := newTestManager(t, fake)

	_, _, err := m.Fetch(context.Background(), FetchRequest{RemoteFileID: "bogus"})
	require.Error(t, err)

	gatewayErr, ok := err.(*customerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, customerrors.TypeNotFound, gatewayErr.Type)
}

func TestManagerDelete(t *testing.T) {
	fake := newFakeClient()
	m := newTestManager(t, fake)

	require.NoError(t, m.Delete(context.Background(), 900))
	assert.Equal(t, []int64{900}, fake.deleted)
}

func TestManagerEvictForwardsPolicy(t *testing.T) {
	fake := newFakeClient()
	fake.evictStats = StorageStats{BytesFreed: 1024, FilesRemoved: 3}
	m := newTestManager(t, fake)

	policy := EvictionPolicy{MaxSize: 8 << 30, TTL: 6 * time.Hour, ExcludeThumbnails: true}

	stats, err := m.Evict(context.Background(), policy)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), stats.BytesFreed)
	require.NotNil(t, fake.evictPolicy)
	assert.True(t, fake.evictPolicy.ExcludeThumbnails)
}
