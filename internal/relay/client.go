// Package relay owns the protocol-client side of the gateway: the singleton
// session lifecycle, the send pipeline with its watchdog and media fallback,
// per-operation event dispatch, and translation of the provider's untyped
// error strings into the gateway error taxonomy.
package relay

import (
	"context"
	"io"
	"time"
)

// SendShape is the outbound message shape chosen from the file's MIME type.
type SendShape string

const (
	// ShapeVideo sends the file as a native video message.
	ShapeVideo SendShape = "video"
	// ShapeAudio sends the file as a native audio message.
	ShapeAudio SendShape = "audio"
	// ShapeDocument sends the file as a generic document. Images always use
	// this shape to avoid the provider's lossy recompression.
	ShapeDocument SendShape = "document"
)

// SendRequest describes one file handed to the protocol client for sending.
type SendRequest struct {
	ChatID   int64
	FilePath string
	FileName string
	MimeType string
	Shape    SendShape
}

// FetchRequest describes a ranged read of previously uploaded content.
type FetchRequest struct {
	RemoteFileID string
	MessageID    int64
	Offset       int64
	// Limit is the maximum number of bytes to fetch; zero means to the end.
	Limit int64
}

// RemoteFileRecord is produced once per successful send. RemoteFileID is the
// provider-global stable pointer callers persist; LocalFileID is an ephemeral
// per-process handle and must not be stored.
type RemoteFileRecord struct {
	RemoteFileID    string
	LocalFileID     int32
	MessageID       int64
	ThumbnailFileID string
	ThumbnailData   []byte
	Size            int64
}

// EvictionPolicy caps the protocol client's local on-disk cache.
type EvictionPolicy struct {
	MaxSize           int64
	TTL               time.Duration
	ExcludeThumbnails bool
}

// StorageStats reports the outcome of one eviction run.
type StorageStats struct {
	BytesFreed     int64
	FilesRemoved   int64
	BytesRemaining int64
}

// EventKind discriminates dispatcher events.
type EventKind int

const (
	// EventProgress reports partial upload progress for an operation.
	EventProgress EventKind = iota
	// EventSucceeded carries the terminal record for an operation.
	EventSucceeded
	// EventFailed carries the terminal provider error for an operation.
	EventFailed
)

// Event is one progress or terminal notification for a send operation.
type Event struct {
	Kind        EventKind
	OperationID string
	Uploaded    int64
	Total       int64
	Record      *RemoteFileRecord
	Err         error
}

// Terminal reports whether the event resolves its operation.
func (e Event) Terminal() bool {
	return e.Kind == EventSucceeded || e.Kind == EventFailed
}

// Client is the protocol client surface the gateway depends on. The concrete
// TDLib adapter implements it; tests substitute a fake.
type Client interface {
	// Start authenticates the client and begins emitting events on Updates.
	Start(ctx context.Context) error

	// Updates delivers progress and terminal events for submitted sends. The
	// channel is closed when the client shuts down.
	Updates() <-chan Event

	// ResolveChat loads the destination chat into the client's local cache.
	ResolveChat(ctx context.Context, chatID int64) error

	// LoadKnownChats bulk-loads the chat list so a subsequent ResolveChat can
	// succeed for chats not yet cached.
	LoadKnownChats(ctx context.Context, limit int32) error

	// Submit starts a send and returns its operation ID. Resolution arrives
	// through Updates.
	Submit(ctx context.Context, req SendRequest) (string, error)

	// Fetch streams the requested byte range of stored content and reports
	// the full file size.
	Fetch(ctx context.Context, req FetchRequest) (io.ReadCloser, int64, error)

	// DeleteMessage removes the backing message from the destination chat.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	// OptimizeStorage evicts aged files from the client's local cache.
	OptimizeStorage(ctx context.Context, policy EvictionPolicy) (StorageStats, error)

	// Close shuts the client down. Safe to call more than once.
	Close() error
}
