package relay

import (
	"strings"
)

// ClassifyShape picks the initial send shape from a MIME type. Video and audio
// use their native shapes so receivers get streaming previews; everything else
// goes as a generic document. Images are deliberately sent as documents since
// the provider recompresses photo uploads lossily.
func ClassifyShape(mimeType string) SendShape {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return ShapeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return ShapeAudio
	default:
		return ShapeDocument
	}
}

// Signals the provider uses to reject a file's media shape. These warrant one
// unconditional retry as a generic document with the same bytes.
var mediaRejectionSignals = []string{
	"IMAGE_PROCESS_FAILED",
	"PHOTO_INVALID_DIMENSIONS",
	"PHOTO_SAVE_FILE_INVALID",
	"PHOTO_EXT_INVALID",
	"VIDEO_CONTENT_TYPE_INVALID",
	"VIDEO_FILE_INVALID",
	"AUDIO_CONTENT_TYPE_INVALID",
	"MEDIA_INVALID",
	"MEDIA_EMPTY",
	"FILE_PARTS_INVALID",
	"WEBPAGE_MEDIA_EMPTY",
}

// IsMediaRejected reports whether the provider rejected the file's media
// shape, as opposed to failing the send outright.
func IsMediaRejected(err error) bool {
	if err == nil {
		return false
	}

	text := strings.ToUpper(err.Error())

	for _, signal := range mediaRejectionSignals {
		if strings.Contains(text, signal) {
			return true
		}
	}

	return false
}
