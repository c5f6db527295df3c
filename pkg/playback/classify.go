package playback

import (
	"errors"
	"strings"

	"github.com/entrhq/playback/pkg/widget"
)

// vendorStreamErrorCode is the widget's HLS failure code.
const vendorStreamErrorCode = 4000

// streamSignatures are the lower-cased message fragments that identify
// playlist, manifest and HLS failures.
var streamSignatures = []string{"playlist", "manifest", "hls"}

func isStreamMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, sig := range streamSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsRecoverable reports whether a native error event matches a known
// recoverable signature. Everything else is noise and must not trigger
// recovery.
func IsRecoverable(ev widget.Event) bool {
	return ev.Code == vendorStreamErrorCode || isStreamMessage(ev.Message)
}

// Classify returns the failure kind of a construction error.
func Classify(err error) FailureKind {
	if err == nil {
		return KindInfrastructure
	}
	var se *widget.StreamError
	if errors.As(err, &se) && se.Code == vendorStreamErrorCode {
		return KindStreamFormat
	}
	if isStreamMessage(err.Error()) {
		return KindStreamFormat
	}
	return KindInfrastructure
}
