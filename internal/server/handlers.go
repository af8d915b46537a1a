package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/auth"
	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/logging"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/relay"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/signedurl"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/upload"
)

const defaultContentType = "application/octet-stream"

type uploadInitRequest struct {
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	MimeType    string `json:"mime_type"`
	TotalChunks int    `json:"total_chunks"`
}

type uploadInitResponse struct {
	UploadID string `json:"upload_id"`
}

func (s *Server) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	var req uploadInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, customerrors.NewValidationError("invalid request body").WithComponent("server"))

		return
	}

	if max := s.cfg.Server.MaxUploadSize; max > 0 && req.FileSize > max {
		s.writeError(w, r, customerrors.NewValidationError(
			fmt.Sprintf("declared size %d exceeds the %d byte limit", req.FileSize, max)).
			WithComponent("server"))

		return
	}

	session, err := s.uploads.Init(req.FileName, req.FileSize, req.MimeType, req.TotalChunks)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, uploadInitResponse{UploadID: session.ID})
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if max := s.cfg.Server.MaxUploadSize; max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, customerrors.NewValidationError("expected multipart body").WithComponent("server"))

		return
	}

	// IDs may arrive as query parameters or as form fields preceding the
	// chunk part.
	uploadID := r.URL.Query().Get("uploadId")
	chunkIndex := r.URL.Query().Get("chunkIndex")

	var written int64
	var wrote bool

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}

		if err != nil {
			s.writeError(w, r, customerrors.NewValidationError("malformed multipart body").WithComponent("server"))

			return
		}

		switch part.FormName() {
		case "uploadId":
			uploadID = readFormValue(part)

		case "chunkIndex":
			chunkIndex = readFormValue(part)

		case "chunk":
			index, err := strconv.Atoi(chunkIndex)
			if uploadID == "" || err != nil {
				s.writeError(w, r, customerrors.NewValidationError(
					"uploadId and chunkIndex must precede the chunk part").
					WithComponent("server"))

				return
			}

			written, err = s.uploads.WriteChunk(uploadID, index, part)
			if err != nil {
				s.writeError(w, r, err)

				return
			}

			wrote = true
		}
	}

	if !wrote {
		s.writeError(w, r, customerrors.NewValidationError("missing chunk part").WithComponent("server"))

		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "bytes": written})
}

func readFormValue(part *multipart.Part) string {
	// Form fields are tiny; bound them anyway.
	data, err := io.ReadAll(io.LimitReader(part, 1024))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

type uploadCompleteRequest struct {
	UploadID string `json:"upload_id"`
}

type uploadCompleteResponse struct {
	FileID        string `json:"file_id"`
	LocalFileID   int32  `json:"local_file_id"`
	MessageID     int64  `json:"message_id"`
	ThumbnailData []byte `json:"thumbnail_data"`
	FileSize      int64  `json:"file_size"`
}

func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	var req uploadCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UploadID == "" {
		s.writeError(w, r, customerrors.NewValidationError("upload_id is required").WithComponent("server"))

		return
	}

	ctx := logging.ContextWithUploadID(r.Context(), req.UploadID)

	session, err := s.uploads.Begin(req.UploadID)
	if err != nil {
		// The empty-assembly case marks the session Failed; consume it so
		// its temp file is removed. Incomplete sessions stay Open for
		// further chunks.
		if existing, getErr := s.uploads.Get(req.UploadID); getErr == nil &&
			existing.CurrentStatus() == upload.StatusFailed {
			s.uploads.Finish(req.UploadID, false)
		}

		s.writeError(w, r, err)

		return
	}

	record, err := s.relay.Send(ctx, relay.SendSpec{
		FilePath: session.FilePath,
		FileName: session.FileName,
		MimeType: session.MimeType,
		Size:     session.DeclaredSize,
		OnProgress: func(uploaded, total int64) {
			s.progress.publish(req.UploadID, progressFrame{Uploaded: uploaded, Total: total})
		},
	})
	if err != nil {
		// Flood control is recoverable without chunk replay: keep the
		// session so the caller can retry complete after the wait.
		if customerrors.RetryAfterSeconds(err) > 0 && customerrors.IsType(err, customerrors.TypeRateLimit) {
			if reopenErr := s.uploads.Reopen(req.UploadID); reopenErr != nil {
				s.logger.Warn("Failed to reopen session after flood wait",
					zap.String("upload_id", req.UploadID),
					zap.Error(reopenErr))
			}
		} else {
			s.uploads.Finish(req.UploadID, false)
		}

		s.progress.publish(req.UploadID, progressFrame{Done: true, Status: "failed"})
		s.writeError(w, r, err)

		return
	}

	s.uploads.Finish(req.UploadID, true)
	s.progress.publish(req.UploadID, progressFrame{
		Uploaded: session.DeclaredSize,
		Total:    session.DeclaredSize,
		Done:     true,
		Status:   "completed",
	})

	writeJSON(w, http.StatusOK, uploadCompleteResponse{
		FileID:        record.RemoteFileID,
		LocalFileID:   record.LocalFileID,
		MessageID:     record.MessageID,
		ThumbnailData: record.ThumbnailData,
		FileSize:      record.Size,
	})
}

func (s *Server) handleUploadProgress(w http.ResponseWriter, r *http.Request) {
	uploadID := r.PathValue("uploadID")

	if _, err := s.uploads.Get(uploadID); err != nil {
		s.writeError(w, r, err)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))

		return
	}

	s.progress.add(uploadID, conn)

	defer func() {
		s.progress.remove(uploadID, conn)
		_ = conn.Close()
	}()

	// Consume control frames until the peer disconnects; subscribers never
	// send application data.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, false)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, true)
}

// serveFile is the single streaming path for downloads and thumbnails,
// serving API-key and signed-token callers uniformly.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, thumbnail bool) {
	principal, err := s.authenticator.AuthenticateDownload(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), principal)
	fileID := r.PathValue("fileID")

	// Caller-supplied metadata is authoritative for the response headers.
	contentType := defaultContentType
	fileName := ""

	var messageID int64

	if principal.Token != nil {
		if principal.Token.RemoteFileID != fileID {
			s.writeError(w, r, customerrors.NewForbiddenError("token does not cover this file").
				WithComponent("server"))

			return
		}

		contentType = principal.Token.ContentType
		fileName = principal.Token.FileName
		messageID = principal.Token.MessageID
	} else {
		q := r.URL.Query()
		if ct := q.Get("content_type"); ct != "" {
			contentType = ct
		}

		fileName = q.Get("file_name")
		messageID, _ = strconv.ParseInt(q.Get("message_id"), 10, 64)
	}

	if thumbnail && contentType == defaultContentType {
		contentType = "image/jpeg"
	}

	byteRange, ranged := parseRange(r.Header.Get("Range"))
	if thumbnail {
		ranged = false
	}

	fetch := relay.FetchRequest{RemoteFileID: fileID, MessageID: messageID}
	if ranged {
		fetch.Offset = byteRange.start
		if byteRange.hasEnd {
			fetch.Limit = byteRange.end - byteRange.start + 1
		}
	}

	body, totalSize, err := s.relay.Fetch(ctx, fetch)
	if err != nil {
		s.writeError(w, r, err)

		return
	}
	defer body.Close()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	if fileName != "" {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", fileName))
	}

	authMode := string(principal.Mode)

	if ranged {
		if byteRange.start >= totalSize {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", totalSize))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

			return
		}

		end := totalSize - 1
		if byteRange.hasEnd && byteRange.end < end {
			end = byteRange.end
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", byteRange.start, end, totalSize))
		w.Header().Set("Content-Length", strconv.FormatInt(end-byteRange.start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		if totalSize > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(totalSize, 10))
		}

		w.WriteHeader(http.StatusOK)
	}

	streamed, copyErr := io.Copy(w, body)
	if copyErr != nil {
		s.logger.Debug("Download stream interrupted",
			zap.String("file_id", fileID),
			zap.Error(copyErr))
	}

	s.metrics.DownloadBytesTotal.Add(float64(streamed))
	s.metrics.DownloadsTotal.WithLabelValues(authMode, strconv.FormatBool(ranged)).Inc()
}

type byteRange struct {
	start  int64
	end    int64
	hasEnd bool
}

// parseRange handles single "bytes=a-b" and "bytes=a-" ranges. Anything else
// (including suffix ranges) is ignored and the full body is served, which is
// permitted behavior for an unsupported Range header.
func parseRange(header string) (byteRange, bool) {
	if !strings.HasPrefix(header, "bytes=") {
		return byteRange{}, false
	}

	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		return byteRange{}, false
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return byteRange{}, false
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false
	}

	if parts[1] == "" {
		return byteRange{start: start}, true
	}

	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return byteRange{}, false
	}

	return byteRange{start: start, end: end, hasEnd: true}, true
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(r.PathValue("messageID"), 10, 64)
	if err != nil {
		s.writeError(w, r, customerrors.NewValidationError("message ID must be numeric").
			WithComponent("server"))

		return
	}

	if err := s.relay.Delete(r.Context(), messageID); err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type signRequest struct {
	FileID      string `json:"file_id"`
	MessageID   int64  `json:"message_id,omitempty"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
	Size        int64  `json:"size,omitempty"`
}

type signResponse struct {
	Token     string `json:"token"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == "" {
		s.writeError(w, r, customerrors.NewValidationError("file_id is required").WithComponent("server"))

		return
	}

	ttl := s.cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = signedurl.DefaultTTL
	}

	expiresAt := time.Now().Add(ttl).Unix()

	token, err := s.codec.Sign(signedurl.Payload{
		RemoteFileID: req.FileID,
		MessageID:    req.MessageID,
		ContentType:  req.ContentType,
		FileName:     req.FileName,
		Size:         req.Size,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, signResponse{
		Token:     token,
		URL:       fmt.Sprintf("/download/%s?sig=%s", url.PathEscape(req.FileID), token),
		ExpiresAt: expiresAt,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.checker.Check())
}
