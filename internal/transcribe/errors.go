package transcribe

import "fmt"

// ErrorKind classifies recognizer error codes.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota

	// KindNetwork errors are transient; the restart loop retries them.
	KindNetwork

	// KindPermission means the user denied microphone access. It ends the
	// session's restart loop.
	KindPermission

	// KindNoSpeech is reported when nothing was heard. It is ignored.
	KindNoSpeech

	// KindAborted is reported when recognition was stopped on purpose.
	KindAborted
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindPermission:
		return "permission"
	case KindNoSpeech:
		return "no-speech"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// RecognitionError is a runtime error reported by a speech recognizer.
type RecognitionError struct {
	Kind ErrorKind
	Code string // raw code from the recognizer
}

func (e *RecognitionError) Error() string {
	if e.Kind == KindPermission {
		return "transcribe: microphone permission denied; allow microphone access to use transcription"
	}
	return fmt.Sprintf("transcribe: recognition error: %s", e.Code)
}

// Retryable reports whether the restart loop may recover from the error.
func (e *RecognitionError) Retryable() bool {
	return e.Kind == KindNetwork
}

// Classify maps a recognizer error code to a RecognitionError.
func Classify(code string) *RecognitionError {
	kind := KindUnknown
	switch code {
	case "network":
		kind = KindNetwork
	case "not-allowed", "service-not-allowed":
		kind = KindPermission
	case "no-speech":
		kind = KindNoSpeech
	case "aborted":
		kind = KindAborted
	}
	return &RecognitionError{Kind: kind, Code: code}
}
