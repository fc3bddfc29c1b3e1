package classify

import (
	"math"
	"time"

	"github.com/wesm/inboxsweep/internal/mail"
)

// Decision thresholds.
const (
	keepThreshold    = 50
	deleteThreshold  = 25
	archiveThreshold = 20

	// Cross-penalties applied before comparing delete and archive.
	archivePenalty = 0.5 // archive points subtracted from delete, per point
	deletePenalty  = 0.3 // delete points subtracted from archive, per point

	keepScale    = 100
	deleteScale  = 80
	archiveScale = 60

	fallbackConfidence = 0.3
	fallbackReason     = "No clear delete/archive signals"
)

// Context carries the per-account inputs to classification.
type Context struct {
	UserEmail string
	Now       time.Time // zero means time.Now()
}

// Scores is the raw outcome of evaluating the rule table.
type Scores struct {
	Keep, Delete, Archive float64
	reasons               []scoredReason
}

type scoredReason struct {
	text     string
	category Category
}

// Reasons returns the deduplicated reasons recorded for a category, in rule order.
func (s *Scores) Reasons(c Category) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range s.reasons {
		if r.category == c && !seen[r.text] {
			seen[r.text] = true
			out = append(out, r.text)
		}
	}
	return out
}

// Evaluate runs rules against msg and returns the accumulated scores.
func Evaluate(rules []Rule, msg *mail.Message, ctx Context) *Scores {
	f := newFacts(msg, ctx)
	s := &Scores{}
	matchedGroups := make(map[string]bool)
	for _, r := range rules {
		if r.Group != "" && matchedGroups[r.Group] {
			continue
		}
		if !r.Match.Match(f) {
			continue
		}
		if r.Group != "" {
			matchedGroups[r.Group] = true
		}
		switch r.Category {
		case Keep:
			s.Keep += r.Points
		case Delete:
			s.Delete += r.Points
		case Archive:
			s.Archive += r.Points
		}
		s.reasons = append(s.reasons, scoredReason{text: r.Reason, category: r.Category})
	}
	return s
}

func newFacts(msg *mail.Message, ctx Context) *Facts {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	days := 0
	if !msg.Date.IsZero() {
		days = int(math.Floor(now.Sub(msg.Date).Hours() / 24))
	}
	return &Facts{
		Msg:       msg,
		DaysOld:   days,
		Sender:    mail.NormalizeAddress(msg.From.Email),
		UserEmail: mail.NormalizeAddress(ctx.UserEmail),
	}
}

// Classify suggests delete, archive or keep for msg. It never fails: a
// message with no decisive signals is kept with low confidence.
func Classify(msg *mail.Message, ctx Context) mail.Classification {
	return decide(Evaluate(DefaultRules, msg, ctx))
}

func decide(s *Scores) mail.Classification {
	if s.Keep >= keepThreshold {
		return verdict(mail.ActionKeep, s.Keep/keepScale, s.Reasons(Keep))
	}

	netDelete := s.Delete - s.Archive*archivePenalty
	netArchive := s.Archive - s.Delete*deletePenalty

	if netDelete > netArchive && s.Delete >= deleteThreshold {
		return verdict(mail.ActionDelete, s.Delete/deleteScale, s.Reasons(Delete))
	}
	if netArchive > 0 && s.Archive >= archiveThreshold {
		return verdict(mail.ActionArchive, s.Archive/archiveScale, s.Reasons(Archive))
	}
	return verdict(mail.ActionKeep, fallbackConfidence, []string{fallbackReason})
}

// ClassifyForUnsubscribe is the unsubscribe-mode variant. Messages with strong
// keep signals stay kept; otherwise a message is an unsubscribe candidate
// when its List-Unsubscribe header offers a mechanism we can act on.
func ClassifyForUnsubscribe(msg *mail.Message, ctx Context) mail.Classification {
	s := Evaluate(DefaultRules, msg, ctx)
	if s.Keep >= keepThreshold {
		return verdict(mail.ActionKeep, s.Keep/keepScale, s.Reasons(Keep))
	}
	if !msg.Unsubscribe.Usable() {
		return verdict(mail.ActionKeep, fallbackConfidence, []string{"No usable unsubscribe link"})
	}
	return verdict(mail.ActionUnsubscribe, s.Delete/deleteScale, s.Reasons(Delete))
}

// ForMode dispatches to the classifier variant a review mode uses.
func ForMode(mode mail.Mode, msg *mail.Message, ctx Context) mail.Classification {
	if mode == mail.ModeUnsubscribe {
		return ClassifyForUnsubscribe(msg, ctx)
	}
	return Classify(msg, ctx)
}

func verdict(action mail.Action, confidence float64, reasons []string) mail.Classification {
	if reasons == nil {
		reasons = []string{}
	}
	return mail.Classification{
		Action:     action,
		Confidence: math.Max(0, math.Min(confidence, 1)),
		Reasons:    reasons,
	}
}
