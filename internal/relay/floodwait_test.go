package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFloodWait(t *testing.T) {
	tests := []struct {
		name        string
		errText     string
		wantSeconds int
		wantFound   bool
	}{
		{
			name:        "flood wait with duration",
			errText:     "FLOOD_WAIT_42: too many requests",
			wantSeconds: 42,
			wantFound:   true,
		},
		{
			name:        "retry after phrasing",
			errText:     "Too Many Requests: retry after 17",
			wantSeconds: 17,
			wantFound:   true,
		},
		{
			name:        "retry after case insensitive",
			errText:     "429 Retry After 5",
			wantSeconds: 5,
			wantFound:   true,
		},
		{
			name:        "bare flood signal defaults",
			errText:     "request failed with FLOOD_WAIT",
			wantSeconds: 30,
			wantFound:   true,
		},
		{
			name:        "bare too many requests defaults",
			errText:     "too many requests",
			wantSeconds: 30,
			wantFound:   true,
		},
		{
			name:      "unrelated error",
			errText:   "connection reset by peer",
			wantFound: false,
		},
		{
			name:      "empty",
			errText:   "",
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seconds, found := ParseFloodWait(tt.errText)
			assert.Equal(t, tt.wantFound, found)

			if tt.wantFound {
				assert.Equal(t, tt.wantSeconds, seconds)
			}
		})
	}
}

func TestIsFloodWait(t *testing.T) {
	assert.True(t, IsFloodWait(errors.New("FLOOD_WAIT_3")))
	assert.False(t, IsFloodWait(errors.New("boom")))
	assert.False(t, IsFloodWait(nil))
}
