package session

import (
	"github.com/wesm/inboxsweep/internal/mail"
)

// Tx is a tentative mutation of session state. The caller mutates the live
// state freely after begin and then either keeps the result with Commit or
// restores the snapshot with Rollback.
//
// Pages that arrive while a Tx is open are merged into the live state and
// also remembered, so a rollback does not lose them.
type Tx struct {
	target  *state
	saved   state
	fetched []mail.ClassifiedMessage
	done    bool
}

func begin(s *state) *Tx {
	return &Tx{target: s, saved: s.clone()}
}

// noteFetched records messages merged while the transaction is open.
func (tx *Tx) noteFetched(msgs []mail.ClassifiedMessage) {
	if tx == nil || tx.done {
		return
	}
	tx.fetched = append(tx.fetched, msgs...)
}

// Commit keeps the tentative state.
func (tx *Tx) Commit() {
	tx.done = true
	tx.fetched = nil
}

// Rollback restores the state captured by begin, then re-merges messages
// fetched in the meantime under the restored filters.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	*tx.target = tx.saved
	if len(tx.fetched) > 0 {
		tx.target.merge(tx.fetched)
	}
	tx.fetched = nil
}
