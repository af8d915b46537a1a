package relay

import (
	"regexp"
	"strconv"
	"strings"
)

// The provider signals flood control through untyped error text. All string
// matching against that channel lives here so a provider format change is a
// one-place fix.

const defaultFloodWaitSeconds = 30

var (
	floodWaitPattern  = regexp.MustCompile(`FLOOD_WAIT_(\d+)`)
	retryAfterPattern = regexp.MustCompile(`(?i)retry after (\d+)`)
)

// ParseFloodWait extracts a wait duration in seconds from provider error text.
// It returns false when the text carries no flood-control signal. A signal
// without a parseable duration yields the default wait.
func ParseFloodWait(errText string) (int, bool) {
	if errText == "" {
		return 0, false
	}

	if match := floodWaitPattern.FindStringSubmatch(errText); match != nil {
		if seconds, err := strconv.Atoi(match[1]); err == nil {
			return seconds, true
		}

		return defaultFloodWaitSeconds, true
	}

	if match := retryAfterPattern.FindStringSubmatch(errText); match != nil {
		if seconds, err := strconv.Atoi(match[1]); err == nil {
			return seconds, true
		}

		return defaultFloodWaitSeconds, true
	}

	upper := strings.ToUpper(errText)
	if strings.Contains(upper, "FLOOD_WAIT") || strings.Contains(upper, "TOO MANY REQUESTS") {
		return defaultFloodWaitSeconds, true
	}

	return 0, false
}

// IsFloodWait reports whether the error text carries a flood-control signal.
func IsFloodWait(err error) bool {
	if err == nil {
		return false
	}

	_, ok := ParseFloodWait(err.Error())

	return ok
}
