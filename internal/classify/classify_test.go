package classify

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/inboxsweep/internal/mail"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testCtx() Context {
	return Context{UserEmail: "me@example.com", Now: testNow}
}

func daysAgo(n int) time.Time {
	return testNow.Add(-time.Duration(n) * 24 * time.Hour)
}

func TestClassify_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		msg         mail.Message
		wantAction  mail.Action
		minConf     float64
		wantReasons []string
	}{
		{
			name: "promotional sale",
			msg: mail.Message{
				Subject:            "50% OFF - Limited Time Only!",
				HasListUnsubscribe: true,
				Labels:             []string{mail.LabelPromotions},
				Date:               daysAgo(30),
			},
			wantAction: mail.ActionDelete,
			minConf:    0.7,
			wantReasons: []string{
				"Promotional email",
				"Marketing email (has unsubscribe)",
				"Promotional subject line",
			},
		},
		{
			name: "flight itinerary",
			msg: mail.Message{
				Subject:        "Your flight itinerary - Confirmation #ABC123",
				HasAttachments: true,
				Labels:         []string{mail.LabelPurchases},
				Date:           daysAgo(20),
			},
			wantAction: mail.ActionArchive,
			minConf:    0.6,
			wantReasons: []string{
				"Has attachments",
				"Receipt/confirmation/statement",
				"Purchase-related",
			},
		},
		{
			name: "starred overrides sale",
			msg: mail.Message{
				Subject:   "50% OFF",
				IsStarred: true,
				Labels:    []string{mail.LabelPromotions},
				Date:      daysAgo(30),
			},
			wantAction:  mail.ActionKeep,
			minConf:     1,
			wantReasons: []string{"Starred email"},
		},
		{
			name: "no signals",
			msg: mail.Message{
				From:    mail.Sender{Email: "friend@example.org"},
				Subject: "lunch?",
				Date:    daysAgo(10),
			},
			wantAction:  mail.ActionKeep,
			minConf:     0.3,
			wantReasons: []string{"No clear delete/archive signals"},
		},
		{
			name: "own email",
			msg: mail.Message{
				From:    mail.Sender{Email: "ME@example.com"},
				Subject: "note to self",
				Date:    daysAgo(40),
			},
			wantAction:  mail.ActionKeep,
			minConf:     0.5,
			wantReasons: []string{"Your own email"},
		},
		{
			name: "expired verification code",
			msg: mail.Message{
				From:    mail.Sender{Email: "noreply@service.com"},
				Subject: "Your verification code",
				Snippet: "Use 123456 to sign in",
				Labels:  []string{mail.LabelUpdates},
				Date:    daysAgo(20),
			},
			wantAction: mail.ActionDelete,
			minConf:    0.8,
			wantReasons: []string{
				"Updates/notifications",
				"Automated sender address",
				"Expired notification (>14 days)",
			},
		},
		{
			name: "bank statement",
			msg: mail.Message{
				From:    mail.Sender{Email: "alerts@chase.com"},
				Subject: "Your statement is ready",
				Labels:  []string{mail.LabelImportant},
				Date:    daysAgo(15),
			},
			wantAction: mail.ActionArchive,
			minConf:    1,
			wantReasons: []string{
				"Financial institution",
				"Receipt/confirmation/statement",
				"Marked as important",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(&tt.msg, testCtx())
			if got.Action != tt.wantAction {
				t.Fatalf("action = %s, want %s (reasons %v)", got.Action, tt.wantAction, got.Reasons)
			}
			if got.Confidence < tt.minConf {
				t.Errorf("confidence = %.3f, want >= %.2f", got.Confidence, tt.minConf)
			}
			if diff := cmp.Diff(tt.wantReasons, got.Reasons); diff != "" {
				t.Errorf("reasons mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassify_TransientAgeBands(t *testing.T) {
	tests := []struct {
		days  int
		want  float64
		label string
	}{
		{days: 3, want: 0},
		{days: 7, want: 0},
		{days: 8, want: 15, label: "Old notification"},
		{days: 14, want: 15, label: "Old notification"},
		{days: 15, want: 35, label: "Expired notification (>14 days)"},
	}
	for _, tt := range tests {
		msg := mail.Message{Subject: "Your package has been delivered", Date: daysAgo(tt.days)}
		s := Evaluate(DefaultRules, &msg, testCtx())
		if s.Delete != tt.want {
			t.Errorf("days=%d: delete score = %v, want %v", tt.days, s.Delete, tt.want)
		}
		reasons := s.Reasons(Delete)
		if tt.label == "" && len(reasons) != 0 {
			t.Errorf("days=%d: unexpected reasons %v", tt.days, reasons)
		}
		if tt.label != "" && (len(reasons) != 1 || reasons[0] != tt.label) {
			t.Errorf("days=%d: reasons = %v, want [%s]", tt.days, reasons, tt.label)
		}
	}
}

func TestClassify_UnreadInNoisyCategoryIsNotKept(t *testing.T) {
	base := mail.Message{Subject: "hello", IsUnread: true, Date: daysAgo(30)}
	s := Evaluate(DefaultRules, &base, testCtx())
	if s.Keep != 40 {
		t.Errorf("unread keep score = %v, want 40", s.Keep)
	}

	promo := base
	promo.Labels = []string{mail.LabelSocial}
	s = Evaluate(DefaultRules, &promo, testCtx())
	if s.Keep != 0 {
		t.Errorf("unread social keep score = %v, want 0", s.Keep)
	}
}

func TestClassify_StarredAlwaysKept(t *testing.T) {
	labels := [][]string{
		nil,
		{mail.LabelPromotions, mail.LabelUpdates, mail.LabelSocial},
		{mail.LabelStarred},
	}
	for _, l := range labels {
		msg := mail.Message{
			From:               mail.Sender{Email: "deals@shop.com"},
			Subject:            "FLASH SALE 90% off, last chance, shop now",
			Labels:             l,
			HasListUnsubscribe: true,
			IsStarred:          len(l) != 1,
			Date:               daysAgo(100),
		}
		if got := Classify(&msg, testCtx()); got.Action != mail.ActionKeep {
			t.Errorf("labels %v: action = %s, want keep", l, got.Action)
		}
	}
}

func TestClassify_Totality(t *testing.T) {
	subjects := []string{"", "receipt", "50% off", "verification code", "hello"}
	senders := []string{"", "noreply@chase.com", "me@example.com", "x@law.org"}
	valid := map[mail.Action]bool{mail.ActionDelete: true, mail.ActionArchive: true, mail.ActionKeep: true}
	for _, subj := range subjects {
		for _, from := range senders {
			for _, flags := range []int{0, 1, 2, 3} {
				msg := mail.Message{
					From:               mail.Sender{Email: from},
					Subject:            subj,
					HasAttachments:     flags&1 != 0,
					HasListUnsubscribe: flags&2 != 0,
					ThreadMessageCount: flags,
					Labels:             []string{mail.LabelPromotions, mail.LabelImportant},
					Date:               daysAgo(flags * 9),
				}
				c := Classify(&msg, testCtx())
				if !valid[c.Action] {
					t.Fatalf("invalid action %q", c.Action)
				}
				if c.Confidence < 0 || c.Confidence > 1 {
					t.Fatalf("confidence %v out of range", c.Confidence)
				}
				if len(c.Reasons) == 0 {
					t.Fatalf("no reasons for %+v", msg)
				}
			}
		}
	}
}

func TestClassifyForUnsubscribe(t *testing.T) {
	target := &mail.UnsubscribeTarget{URLs: []string{"https://x.com/u"}, OneClick: true}
	tests := []struct {
		name string
		msg  mail.Message
		want mail.Action
	}{
		{
			name: "newsletter with link",
			msg: mail.Message{
				From: mail.Sender{Email: "newsletter@news.com"}, Subject: "Weekly digest",
				HasListUnsubscribe: true, Unsubscribe: target, Date: daysAgo(10),
			},
			want: mail.ActionUnsubscribe,
		},
		{
			name: "header without usable mechanism",
			msg: mail.Message{
				From: mail.Sender{Email: "newsletter@news.com"}, HasListUnsubscribe: true,
				Unsubscribe: &mail.UnsubscribeTarget{}, Date: daysAgo(10),
			},
			want: mail.ActionKeep,
		},
		{
			name: "starred newsletter",
			msg: mail.Message{
				From: mail.Sender{Email: "newsletter@news.com"}, IsStarred: true,
				HasListUnsubscribe: true, Unsubscribe: target, Date: daysAgo(10),
			},
			want: mail.ActionKeep,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyForUnsubscribe(&tt.msg, testCtx())
			if got.Action != tt.want {
				t.Errorf("action = %s, want %s", got.Action, tt.want)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Errorf("confidence %v out of range", got.Confidence)
			}
		})
	}
}

func TestForMode(t *testing.T) {
	msg := mail.Message{
		HasListUnsubscribe: true,
		Unsubscribe:        &mail.UnsubscribeTarget{Mailto: "mailto:u@x.com"},
		Labels:             []string{mail.LabelPromotions},
		Subject:            "Flash sale",
		Date:               daysAgo(30),
	}
	if got := ForMode(mail.ModeDelete, &msg, testCtx()).Action; got != mail.ActionDelete {
		t.Errorf("delete mode action = %s", got)
	}
	if got := ForMode(mail.ModeUnsubscribe, &msg, testCtx()).Action; got != mail.ActionUnsubscribe {
		t.Errorf("unsubscribe mode action = %s", got)
	}
}
