package session

import (
	"fmt"

	"github.com/wesm/inboxsweep/internal/mail"
)

// Level is the severity of a Notification.
type Level int

const (
	LevelSuccess Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "success"
}

// Notification is a transient message about a finished commit.
type Notification struct {
	Level   Level
	Mode    mail.Mode
	Count   int // messages in the commit
	Failed  int // unsubscribe items that could not be dispatched
	Message string
	Err     error
}

// Notifier receives commit notifications. Notify is called without any
// controller lock held.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

func successNotification(mode mail.Mode, count, failed int) Notification {
	noun := "emails"
	if count == 1 {
		noun = "email"
	}
	msg := fmt.Sprintf("%s %d %s", mode.PastTense(), count, noun)
	if failed > 0 {
		msg += fmt.Sprintf(" (%d failed)", failed)
	}
	return Notification{Level: LevelSuccess, Mode: mode, Count: count, Failed: failed, Message: msg}
}

func failureNotification(mode mail.Mode, count int, err error) Notification {
	return Notification{
		Level:   LevelError,
		Mode:    mode,
		Count:   count,
		Message: fmt.Sprintf("Failed to %s: %v", mode, err),
		Err:     err,
	}
}
