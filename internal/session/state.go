package session

import (
	"github.com/wesm/inboxsweep/internal/mail"
)

// DefaultBatchSize is the number of messages shown for review at once.
const DefaultBatchSize = 10

type idSet map[string]struct{}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) add(ids ...string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s idSet) clone() idSet {
	out := make(idSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Stats counts successfully committed actions in a session.
type Stats struct {
	Deleted      int `json:"deleted"`
	Archived     int `json:"archived"`
	Unsubscribed int `json:"unsubscribed"`
}

func (s *Stats) add(mode mail.Mode, n int) {
	switch mode {
	case mail.ModeDelete:
		s.Deleted += n
	case mail.ModeArchive:
		s.Archived += n
	case mail.ModeUnsubscribe:
		s.Unsubscribed += n
	}
}

// Total is the number of messages acted on across all modes.
func (s Stats) Total() int {
	return s.Deleted + s.Archived + s.Unsubscribed
}

// state is everything a transaction can revert. Messages in buffer are
// immutable, so copying the slice header contents is enough.
type state struct {
	mode           mail.Mode
	buffer         []mail.ClassifiedMessage
	selected       idSet
	processed      idSet
	skipped        idSet
	skippedSenders idSet
	stats          Stats
}

func newState(mode mail.Mode) state {
	return state{
		mode:           mode,
		buffer:         []mail.ClassifiedMessage{},
		selected:       idSet{},
		processed:      idSet{},
		skipped:        idSet{},
		skippedSenders: idSet{},
	}
}

func (s *state) clone() state {
	return state{
		mode:           s.mode,
		buffer:         append([]mail.ClassifiedMessage(nil), s.buffer...),
		selected:       s.selected.clone(),
		processed:      s.processed.clone(),
		skipped:        s.skipped.clone(),
		skippedSenders: s.skippedSenders.clone(),
		stats:          s.stats,
	}
}

func (s *state) batch(n int) []mail.ClassifiedMessage {
	if len(s.buffer) < n {
		n = len(s.buffer)
	}
	return s.buffer[:n]
}

// admits reports whether m may enter the buffer.
func (s *state) admits(m *mail.ClassifiedMessage) bool {
	if s.processed.has(m.ID) || s.skipped.has(m.ID) {
		return false
	}
	if s.mode == mail.ModeUnsubscribe && s.skippedSenders.has(m.SenderKey()) {
		return false
	}
	return true
}

// merge appends admitted messages not already buffered, keeping existing
// order. It returns how many were added.
func (s *state) merge(msgs []mail.ClassifiedMessage) int {
	seen := make(idSet, len(s.buffer))
	for i := range s.buffer {
		seen.add(s.buffer[i].ID)
	}
	added := 0
	for i := range msgs {
		m := &msgs[i]
		if seen.has(m.ID) || !s.admits(m) {
			continue
		}
		seen.add(m.ID)
		s.buffer = append(s.buffer, *m)
		added++
	}
	return added
}

func (s *state) removeIDs(ids idSet) {
	s.filter(func(m *mail.ClassifiedMessage) bool { return !ids.has(m.ID) })
}

// skipSenders records senders as skipped and purges every buffered message
// from them.
func (s *state) skipSenders(senders idSet) {
	for k := range senders {
		s.skippedSenders.add(k)
	}
	s.filter(func(m *mail.ClassifiedMessage) bool { return !senders.has(m.SenderKey()) })
}

func (s *state) filter(keep func(*mail.ClassifiedMessage) bool) {
	out := s.buffer[:0:0]
	for i := range s.buffer {
		if keep(&s.buffer[i]) {
			out = append(out, s.buffer[i])
		}
	}
	s.buffer = out
}

// selectBatch replaces the selection with every id of the current batch.
func (s *state) selectBatch(n int) {
	s.selected = idSet{}
	for _, m := range s.batch(n) {
		s.selected.add(m.ID)
	}
}

func senderSet(msgs []mail.ClassifiedMessage) idSet {
	out := idSet{}
	for i := range msgs {
		out.add(msgs[i].SenderKey())
	}
	return out
}

func idsOf(msgs []mail.ClassifiedMessage) []string {
	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	return ids
}
