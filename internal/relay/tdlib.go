package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/zelenin/go-tdlib/client"
	"go.uber.org/zap"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/config"
)

// TDLibClient adapts the TDLib JSON client to the relay.Client interface.
// Every TDLib type and call is confined to this file.
type TDLibClient struct {
	cfg    config.RelayConfig
	logger *zap.Logger

	api      *client.Client
	listener *client.Listener
	updates  chan Event

	// Maps in-flight upload file IDs to their operation IDs so UpdateFile
	// progress can be attributed to the right send.
	mu      sync.Mutex
	fileOps map[int32]string

	closeOnce sync.Once
}

// NewTDLibClient creates an unauthenticated TDLib adapter.
func NewTDLibClient(cfg config.RelayConfig, logger *zap.Logger) *TDLibClient {
	return &TDLibClient{
		cfg:     cfg,
		logger:  logger,
		updates: make(chan Event, 256),
		fileOps: make(map[int32]string),
	}
}

// Start logs the bot in and begins translating TDLib updates into events.
func (t *TDLibClient) Start(ctx context.Context) error {
	authorizer := client.BotAuthorizer(t.cfg.BotToken)

	authorizer.TdlibParameters <- &client.SetTdlibParametersRequest{
		UseTestDc:           false,
		DatabaseDirectory:   t.cfg.DatabaseDir,
		FilesDirectory:      t.cfg.FilesDir,
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  true,
		UseSecretChats:      false,
		ApiId:               t.cfg.APIID,
		ApiHash:             t.cfg.APIHash,
		SystemLanguageCode:  "en",
		DeviceModel:         "cloudvault",
		SystemVersion:       "1.0",
		ApplicationVersion:  "1.0",
	}

	type loginResult struct {
		api *client.Client
		err error
	}

	resultCh := make(chan loginResult, 1)

	go func() {
		api, err := client.NewClient(authorizer,
			client.WithLogVerbosity(&client.SetLogVerbosityLevelRequest{NewVerbosityLevel: 1}))
		resultCh <- loginResult{api: api, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return fmt.Errorf("tdlib login: %w", result.err)
		}

		t.api = result.api

	case <-ctx.Done():
		return ctx.Err()
	}

	t.listener = t.api.GetListener()
	go t.pump()

	return nil
}

// Updates implements relay.Client.
func (t *TDLibClient) Updates() <-chan Event {
	return t.updates
}

// pump translates the raw TDLib update stream into dispatcher events.
func (t *TDLibClient) pump() {
	defer close(t.updates)

	for update := range t.listener.Updates {
		switch u := update.(type) {
		case *client.UpdateFile:
			t.handleFileProgress(u)

		case *client.UpdateMessageSendSucceeded:
			t.handleSendSucceeded(u)

		case *client.UpdateMessageSendFailed:
			t.handleSendFailed(u)
		}
	}
}

func (t *TDLibClient) handleFileProgress(u *client.UpdateFile) {
	t.mu.Lock()
	operationID, tracked := t.fileOps[u.File.Id]
	t.mu.Unlock()

	if !tracked {
		return
	}

	total := u.File.Size
	if total == 0 {
		total = u.File.ExpectedSize
	}

	t.updates <- Event{
		Kind:        EventProgress,
		OperationID: operationID,
		Uploaded:    u.File.Remote.UploadedSize,
		Total:       total,
	}
}

func (t *TDLibClient) handleSendSucceeded(u *client.UpdateMessageSendSucceeded) {
	operationID := strconv.FormatInt(u.OldMessageId, 10)

	record := buildRecord(u.Message)
	if record == nil {
		t.logger.Warn("Sent message carries no file content",
			zap.Int64("message_id", u.Message.Id))

		t.updates <- Event{
			Kind:        EventFailed,
			OperationID: operationID,
			Err:         fmt.Errorf("sent message %d has no file content", u.Message.Id),
		}

		return
	}

	t.untrackMessageFile(u.Message)

	t.updates <- Event{
		Kind:        EventSucceeded,
		OperationID: operationID,
		Record:      record,
	}
}

func (t *TDLibClient) handleSendFailed(u *client.UpdateMessageSendFailed) {
	t.untrackMessageFile(u.Message)

	err := fmt.Errorf("send rejected")
	if u.Error != nil {
		err = fmt.Errorf("provider error %d: %s", u.Error.Code, u.Error.Message)
	}

	t.updates <- Event{
		Kind:        EventFailed,
		OperationID: strconv.FormatInt(u.OldMessageId, 10),
		Err:         err,
	}
}

func (t *TDLibClient) untrackMessageFile(msg *client.Message) {
	file, _, _ := contentFile(msg.Content)
	if file == nil {
		return
	}

	t.mu.Lock()
	delete(t.fileOps, file.Id)
	t.mu.Unlock()
}

// ResolveChat implements relay.Client.
func (t *TDLibClient) ResolveChat(ctx context.Context, chatID int64) error {
	_, err := t.api.GetChat(&client.GetChatRequest{ChatId: chatID})

	return err
}

// LoadKnownChats implements relay.Client. TDLib answers 404 once the full
// chat list is loaded, which is success for our purposes.
func (t *TDLibClient) LoadKnownChats(ctx context.Context, limit int32) error {
	_, err := t.api.LoadChats(&client.LoadChatsRequest{Limit: limit})
	if err != nil && strings.Contains(err.Error(), "404") {
		return nil
	}

	return err
}

// Submit implements relay.Client. The returned operation ID is the pending
// message's temporary ID; terminal updates reference it as OldMessageId.
func (t *TDLibClient) Submit(ctx context.Context, req SendRequest) (string, error) {
	msg, err := t.api.SendMessage(&client.SendMessageRequest{
		ChatId:              req.ChatID,
		InputMessageContent: inputContent(req),
	})
	if err != nil {
		return "", err
	}

	if file, _, _ := contentFile(msg.Content); file != nil {
		t.mu.Lock()
		t.fileOps[file.Id] = strconv.FormatInt(msg.Id, 10)
		t.mu.Unlock()
	}

	return strconv.FormatInt(msg.Id, 10), nil
}

// Fetch implements relay.Client using a synchronous ranged download into the
// client's local cache, then reading the requested window from disk.
func (t *TDLibClient) Fetch(ctx context.Context, req FetchRequest) (io.ReadCloser, int64, error) {
	remote, err := t.api.GetRemoteFile(&client.GetRemoteFileRequest{
		RemoteFileId: req.RemoteFileID,
		FileType:     &client.FileTypeDocument{},
	})
	if err != nil {
		return nil, 0, err
	}

	downloaded, err := t.api.DownloadFile(&client.DownloadFileRequest{
		FileId:      remote.Id,
		Priority:    1,
		Offset:      req.Offset,
		Limit:       req.Limit,
		Synchronous: true,
	})
	if err != nil {
		return nil, 0, err
	}

	totalSize := downloaded.Size
	if totalSize == 0 {
		totalSize = downloaded.ExpectedSize
	}

	f, err := os.Open(downloaded.Local.Path)
	if err != nil {
		return nil, 0, err
	}

	if req.Offset > 0 {
		if _, err := f.Seek(req.Offset, io.SeekStart); err != nil {
			_ = f.Close()

			return nil, 0, err
		}
	}

	if req.Limit > 0 {
		return &limitedReadCloser{Reader: io.LimitReader(f, req.Limit), closer: f}, totalSize, nil
	}

	return f, totalSize, nil
}

// DeleteMessage implements relay.Client.
func (t *TDLibClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := t.api.DeleteMessages(&client.DeleteMessagesRequest{
		ChatId:     chatID,
		MessageIds: []int64{messageID},
		Revoke:     true,
	})

	return err
}

// OptimizeStorage implements relay.Client. Freed totals are derived from the
// fast statistics snapshot taken before the run.
func (t *TDLibClient) OptimizeStorage(ctx context.Context, policy EvictionPolicy) (StorageStats, error) {
	before, err := t.api.GetStorageStatisticsFast()
	if err != nil {
		return StorageStats{}, err
	}

	request := &client.OptimizeStorageRequest{
		Size:          policy.MaxSize,
		Ttl:           int32(policy.TTL.Seconds()),
		Count:         -1,
		ImmunityDelay: 300,
	}

	if policy.ExcludeThumbnails {
		request.FileTypes = []client.FileType{
			&client.FileTypeDocument{},
			&client.FileTypeVideo{},
			&client.FileTypeAudio{},
			&client.FileTypePhoto{},
		}
	}

	after, err := t.api.OptimizeStorage(request)
	if err != nil {
		return StorageStats{}, err
	}

	return StorageStats{
		BytesFreed:     before.FilesSize - after.Size,
		FilesRemoved:   int64(before.FileCount - after.Count),
		BytesRemaining: after.Size,
	}, nil
}

// Close implements relay.Client.
func (t *TDLibClient) Close() error {
	var err error

	t.closeOnce.Do(func() {
		if t.listener != nil {
			t.listener.Close()
		}

		if t.api != nil {
			_, err = t.api.Close()
		}
	})

	return err
}

// inputContent builds the TDLib message content for the chosen shape.
func inputContent(req SendRequest) client.InputMessageContent {
	local := &client.InputFileLocal{Path: req.FilePath}
	caption := &client.FormattedText{Text: req.FileName}

	switch req.Shape {
	case ShapeVideo:
		return &client.InputMessageVideo{
			Video:             local,
			Caption:           caption,
			SupportsStreaming: true,
		}

	case ShapeAudio:
		return &client.InputMessageAudio{
			Audio:   local,
			Caption: caption,
		}

	default:
		return &client.InputMessageDocument{
			Document:                    local,
			Caption:                     caption,
			DisableContentTypeDetection: true,
		}
	}
}

// contentFile extracts the primary file plus thumbnail data from sent message
// content.
func contentFile(content client.MessageContent) (*client.File, *client.Thumbnail, *client.Minithumbnail) {
	switch c := content.(type) {
	case *client.MessageDocument:
		return c.Document.Document, c.Document.Thumbnail, c.Document.Minithumbnail

	case *client.MessageVideo:
		return c.Video.Video, c.Video.Thumbnail, c.Video.Minithumbnail

	case *client.MessageAudio:
		return c.Audio.Audio, c.Audio.AlbumCoverThumbnail, c.Audio.AlbumCoverMinithumbnail

	default:
		return nil, nil, nil
	}
}

func buildRecord(msg *client.Message) *RemoteFileRecord {
	file, thumbnail, minithumbnail := contentFile(msg.Content)
	if file == nil {
		return nil
	}

	record := &RemoteFileRecord{
		RemoteFileID: file.Remote.Id,
		LocalFileID:  file.Id,
		MessageID:    msg.Id,
		Size:         file.Size,
	}

	if thumbnail != nil && thumbnail.File != nil && thumbnail.File.Remote != nil {
		record.ThumbnailFileID = thumbnail.File.Remote.Id
	}

	if minithumbnail != nil {
		record.ThumbnailData = minithumbnail.Data
	}

	return record
}

type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l *limitedReadCloser) Close() error {
	return l.closer.Close()
}
