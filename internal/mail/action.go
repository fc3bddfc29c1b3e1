package mail

import "fmt"

// Action is the suggested handling for a message.
type Action string

const (
	ActionDelete      Action = "delete"
	ActionArchive     Action = "archive"
	ActionKeep        Action = "keep"
	ActionUnsubscribe Action = "unsubscribe"
)

// Classification is the classifier's verdict for one message.
type Classification struct {
	Action     Action   `json:"action"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// ClassifiedMessage pairs a message with its classification.
type ClassifiedMessage struct {
	Message
	Classification Classification `json:"classification"`
}

// Mode selects which suggested action a review session works through.
type Mode string

const (
	ModeDelete      Mode = "delete"
	ModeArchive     Mode = "archive"
	ModeUnsubscribe Mode = "unsubscribe"
)

// Modes lists every review mode in display order.
var Modes = []Mode{ModeDelete, ModeArchive, ModeUnsubscribe}

// ParseMode converts a user-supplied string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDelete, ModeArchive, ModeUnsubscribe:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want delete, archive or unsubscribe)", s)
}

// Action returns the classifier action a mode reviews.
func (m Mode) Action() Action {
	switch m {
	case ModeArchive:
		return ActionArchive
	case ModeUnsubscribe:
		return ActionUnsubscribe
	default:
		return ActionDelete
	}
}

// PastTense is used in user-facing notifications ("Deleted 3 emails").
func (m Mode) PastTense() string {
	switch m {
	case ModeArchive:
		return "Archived"
	case ModeUnsubscribe:
		return "Unsubscribed from"
	default:
		return "Deleted"
	}
}
