// Package classify scores inbox messages against weighted heuristic rules and
// suggests delete, archive, keep or unsubscribe.
//
// Rules are data: each Rule pairs a matcher with a category and a point
// value, and a single evaluator walks the tables. Tuning a threshold or adding
// a pattern never touches the evaluator.
package classify

import (
	"regexp"
	"strings"

	"github.com/wesm/inboxsweep/internal/mail"
)

// Category is the score accumulator a rule contributes to.
type Category int

const (
	Keep Category = iota
	Delete
	Archive
)

func (c Category) String() string {
	switch c {
	case Keep:
		return "keep"
	case Delete:
		return "delete"
	default:
		return "archive"
	}
}

// Facts are the derived values matchers inspect. They are computed once per
// message so every rule sees the same age and normalized sender.
type Facts struct {
	Msg       *mail.Message
	DaysOld   int    // whole days since the message date
	Sender    string // lowercased sender address
	UserEmail string // lowercased account address, may be empty
}

// Matcher decides whether a rule applies.
type Matcher interface {
	Match(f *Facts) bool
}

// MatchFunc adapts a function to Matcher.
type MatchFunc func(f *Facts) bool

func (fn MatchFunc) Match(f *Facts) bool { return fn(f) }

// Rule awards Points to Category when Match succeeds. The first matching
// rule in a Group wins; ungrouped rules are independent.
type Rule struct {
	Reason   string
	Category Category
	Points   float64
	Match    Matcher
	Group    string
}

// Field selects the message text a pattern matcher runs against.
type Field int

const (
	FieldSender Field = iota
	FieldSubject
	FieldSubjectAndSnippet
)

func (fl Field) text(f *Facts) string {
	switch fl {
	case FieldSender:
		return f.Sender
	case FieldSubject:
		return f.Msg.Subject
	default:
		return f.Msg.Subject + " " + f.Msg.Snippet
	}
}

// Patterns matches when any regular expression matches the field.
type Patterns struct {
	Field Field
	Res   []*regexp.Regexp
}

func (p Patterns) Match(f *Facts) bool {
	text := p.Field.text(f)
	for _, re := range p.Res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// SenderContains matches when the lowercased sender address contains any of
// the substrings.
type SenderContains []string

func (s SenderContains) Match(f *Facts) bool {
	for _, sub := range s {
		if strings.Contains(f.Sender, sub) {
			return true
		}
	}
	return false
}

// AnyLabel matches when the message carries at least one of the labels.
type AnyLabel []string

func (l AnyLabel) Match(f *Facts) bool {
	for _, label := range l {
		if f.Msg.HasLabel(label) {
			return true
		}
	}
	return false
}

// Not inverts a matcher.
type Not struct{ M Matcher }

func (n Not) Match(f *Facts) bool { return !n.M.Match(f) }

// All matches when every matcher matches.
type All []Matcher

func (a All) Match(f *Facts) bool {
	for _, m := range a {
		if !m.Match(f) {
			return false
		}
	}
	return true
}

// AgeRange matches when MinDays < DaysOld < MaxDays. A zero bound is open.
type AgeRange struct {
	MinDays int // exclusive
	MaxDays int // exclusive
}

func (a AgeRange) Match(f *Facts) bool {
	if a.MinDays > 0 && f.DaysOld <= a.MinDays {
		return false
	}
	if a.MaxDays > 0 && f.DaysOld >= a.MaxDays {
		return false
	}
	return true
}

// ci compiles case-insensitive patterns.
func ci(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

var (
	financialDomains = SenderContains{
		"chase", "bankofamerica", "wellsfargo", "citi", "capitalone", "amex",
		"americanexpress", "discover", "paypal", "venmo", "zelle", "fidelity",
		"vanguard", "schwab", "etrade", "robinhood",
	}
	insuranceDomains = SenderContains{
		"geico", "statefarm", "progressive", "allstate", "libertymutual", "usaa",
		"nationwide", "aetna", "cigna", "anthem", "bluecross", "united", "kaiser",
		"humana",
	}
	medicalDomains = SenderContains{
		"mychart", "patient", "health", "medical", "hospital", "clinic", "doctor",
		"pharmacy", "cvs", "walgreens",
	}
	legalDomains = SenderContains{"legal", "law", "attorney", "lawyer", "court"}

	promoSender = Patterns{Field: FieldSender, Res: ci(
		`noreply`, `no-reply`, `marketing`, `newsletter`, `promo`, `deals`,
		`offers`, `sales`, `info@`, `hello@`, `support@`,
	)}

	promoSubject = Patterns{Field: FieldSubject, Res: ci(
		`unsubscribe`, `\d+%\s*off`, `limited\s*time`, `sale\s*ends`,
		`flash\s*sale`, `don't\s*miss`, `last\s*chance`, `act\s*now`,
		`exclusive\s*offer`, `free\s*shipping`, `order\s*now`, `shop\s*now`,
		`buy\s*now`, `save\s*\$`, `clearance`, `black\s*friday`,
		`cyber\s*monday`, `daily\s*deal`, `weekly\s*digest`, `newsletter`,
	)}

	transientContent = Patterns{Field: FieldSubjectAndSnippet, Res: ci(
		`verification\s*code`, `verify\s*your`, `reset\s*your\s*password`,
		`one-time\s*password`, `otp`, `security\s*code`, `login\s*code`,
		`confirm\s*your\s*email`, `package\s*(has\s*been\s*)?delivered`,
		`your\s*order\s*(has\s*)?(been\s*)?shipped`, `tracking\s*(number|update)`,
	)}

	archiveSubject = Patterns{Field: FieldSubject, Res: ci(
		`receipt`, `invoice`, `confirmation`, `itinerary`, `booking`,
		`reservation`, `statement`, `bill`, `payment`, `order\s*#`,
		`order\s*confirmation`, `your\s*order`, `claim`, `policy`, `contract`,
		`agreement`, `tax`, `w-?2`, `1099`,
	)}

	noisyCategories = AnyLabel{mail.LabelPromotions, mail.LabelUpdates, mail.LabelSocial}
)

// DefaultRules is the rule table used by Classify, in evaluation order.
var DefaultRules = []Rule{
	// Keep signals.
	{Reason: "Starred email", Category: Keep, Points: 100,
		Match: MatchFunc(func(f *Facts) bool { return f.Msg.IsStarred || f.Msg.HasLabel(mail.LabelStarred) })},
	{Reason: "Less than 7 days old", Category: Keep, Points: 30,
		Match: MatchFunc(func(f *Facts) bool { return f.DaysOld < 7 })},
	{Reason: "Unread email", Category: Keep, Points: 40,
		Match: All{MatchFunc(func(f *Facts) bool { return f.Msg.IsUnread }), Not{noisyCategories}}},
	{Reason: "Your own email", Category: Keep, Points: 50,
		Match: MatchFunc(func(f *Facts) bool { return f.UserEmail != "" && f.Sender == f.UserEmail })},

	// Delete signals.
	{Reason: "Promotional email", Category: Delete, Points: 25, Match: AnyLabel{mail.LabelPromotions}},
	{Reason: "Updates/notifications", Category: Delete, Points: 15, Match: AnyLabel{mail.LabelUpdates}},
	{Reason: "Social notification", Category: Delete, Points: 10, Match: AnyLabel{mail.LabelSocial}},
	{Reason: "Marketing email (has unsubscribe)", Category: Delete, Points: 20,
		Match: MatchFunc(func(f *Facts) bool { return f.Msg.HasListUnsubscribe })},
	{Reason: "Automated sender address", Category: Delete, Points: 15, Match: promoSender},
	{Reason: "Promotional subject line", Category: Delete, Points: 25, Match: promoSubject},
	{Reason: "Expired notification (>14 days)", Category: Delete, Points: 35, Group: "transient",
		Match: All{transientContent, AgeRange{MinDays: 14}}},
	{Reason: "Old notification", Category: Delete, Points: 15, Group: "transient",
		Match: All{transientContent, AgeRange{MinDays: 7}}},

	// Archive signals.
	{Reason: "Has attachments", Category: Archive, Points: 30,
		Match: MatchFunc(func(f *Facts) bool { return f.Msg.HasAttachments })},
	{Reason: "Financial institution", Category: Archive, Points: 35, Match: financialDomains},
	{Reason: "Insurance provider", Category: Archive, Points: 30, Match: insuranceDomains},
	{Reason: "Healthcare provider", Category: Archive, Points: 30, Match: medicalDomains},
	{Reason: "Legal correspondence", Category: Archive, Points: 35, Match: legalDomains},
	{Reason: "Receipt/confirmation/statement", Category: Archive, Points: 25, Match: archiveSubject},
	{Reason: "Purchase-related", Category: Archive, Points: 20, Match: AnyLabel{mail.LabelPurchases}},
	{Reason: "Marked as important", Category: Archive, Points: 15, Match: AnyLabel{mail.LabelImportant}},
	{Reason: "Part of conversation thread", Category: Archive, Points: 20,
		Match: MatchFunc(func(f *Facts) bool { return f.Msg.ThreadMessageCount > 1 })},
}
