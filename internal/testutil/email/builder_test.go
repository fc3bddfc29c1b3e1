package email

import (
	"strings"
	"testing"
)

func TestPlainMessage(t *testing.T) {
	got := string(NewMessage().Text("Hello world.").Bytes())

	want := strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Message",
		"Date: Mon, 01 Jan 2024 12:00:00 +0000",
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		"Hello world.",
		"",
	}, "\r\n")

	if got != want {
		t.Errorf("plain message mismatch.\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestListUnsubscribe(t *testing.T) {
	got := string(NewMessage().ListUnsubscribe(true, "https://x.example/u", "mailto:u@x.example").HeaderBytes())

	for _, want := range []string{
		"List-Unsubscribe: <https://x.example/u>, <mailto:u@x.example>\r\n",
		"List-Unsubscribe-Post: List-Unsubscribe=One-Click\r\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("headers missing %q:\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, "\r\n\r\n") || strings.Contains(got, "This is a test") {
		t.Errorf("HeaderBytes should stop at the blank line:\n%s", got)
	}
}

func TestAlternativeWithAttachment(t *testing.T) {
	got := string(NewMessage().HTML("<p>hi</p>").WithAttachment("a.pdf", "application/pdf", []byte("x")).Bytes())

	for _, want := range []string{
		`multipart/mixed; boundary="mixed-boundary"`,
		`multipart/alternative; boundary="alt-boundary"`,
		"<p>hi</p>",
		`filename="a.pdf"`,
		"--mixed-boundary--",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestNoSubject(t *testing.T) {
	if got := string(NewMessage().NoSubject().Bytes()); strings.Contains(got, "Subject:") {
		t.Errorf("Subject header present:\n%s", got)
	}
}
