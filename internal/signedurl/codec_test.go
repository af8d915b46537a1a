package signedurl

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testPayload() Payload {
	return Payload{
		RemoteFileID: "BQACAgEAAxkDAAIB",
		MessageID:    42,
		ContentType:  "video/mp4",
		FileName:     "holiday.mp4",
		Size:         1 << 20,
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec(testSecret)

	token, err := codec.Sign(testPayload())
	require.NoError(t, err)

	got, err := codec.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, "BQACAgEAAxkDAAIB", got.RemoteFileID)
	assert.Equal(t, int64(42), got.MessageID)
	assert.Equal(t, "video/mp4", got.ContentType)
	assert.Equal(t, "holiday.mp4", got.FileName)
	assert.Equal(t, int64(1<<20), got.Size)
	assert.InDelta(t, time.Now().Add(DefaultTTL).Unix(), got.ExpiresAt, 2)
}

func TestCodec_TamperedToken(t *testing.T) {
	codec := NewCodec(testSecret)

	token, err := codec.Sign(testPayload())
	require.NoError(t, err)

	// Flip one byte of the payload segment
	mutated := []byte(token)
	if mutated[0] == 'A' {
		mutated[0] = 'B'
	} else {
		mutated[0] = 'A'
	}

	_, err = codec.Verify(string(mutated))
	require.Error(t, err)
	assert.True(t, customerrors.IsType(err, customerrors.TypeForbidden))
}

func TestCodec_WrongSecret(t *testing.T) {
	token, err := NewCodec(testSecret).Sign(testPayload())
	require.NoError(t, err)

	_, err = NewCodec("another-secret-entirely").Verify(token)
	require.Error(t, err)
}

func TestCodec_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	codec := NewCodec(testSecret, WithClock(func() time.Time { return past }))

	token, err := codec.Sign(testPayload())
	require.NoError(t, err)

	// Verify with real time: token minted an hour ago with 15m TTL
	_, err = NewCodec(testSecret).Verify(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestCodec_Truncated(t *testing.T) {
	codec := NewCodec(testSecret)

	token, err := codec.Sign(testPayload())
	require.NoError(t, err)

	_, err = codec.Verify(token[:len(token)/2])
	require.Error(t, err)

	_, err = codec.Verify(strings.SplitN(token, ".", 2)[0])
	require.Error(t, err)

	_, err = codec.Verify("")
	require.Error(t, err)
}

func TestCodec_CustomTTL(t *testing.T) {
	codec := NewCodec(testSecret, WithTTL(time.Minute))

	token, err := codec.Sign(testPayload())
	require.NoError(t, err)

	got, err := codec.Verify(token)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(time.Minute).Unix(), got.ExpiresAt, 2)
}
