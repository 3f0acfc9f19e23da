package normalize

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"scout_server/core/domain"
	"scout_server/core/port/out"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

// TestParseAddress tests From-header parsing.
func TestParseAddress(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantName  string
		wantEmail string
	}{
		{
			name:      "named address",
			value:     "Jane Doe <jane@example.com>",
			wantName:  "Jane Doe",
			wantEmail: "jane@example.com",
		},
		{
			name:      "quoted name",
			value:     `"Doe, Jane" <Jane@Example.COM>`,
			wantName:  "Doe, Jane",
			wantEmail: "jane@example.com",
		},
		{
			name:      "bare address",
			value:     "jobs@seek.com.au",
			wantEmail: "jobs@seek.com.au",
		},
		{
			name:     "no address at all",
			value:    "Weekly Digest",
			wantName: "Weekly Digest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAddress(tt.value)
			if got.Name != tt.wantName || got.Email != tt.wantEmail {
				t.Errorf("ParseAddress(%q) = {%q, %q}, want {%q, %q}",
					tt.value, got.Name, got.Email, tt.wantName, tt.wantEmail)
			}
		})
	}
}

// TestParseAddressList tests To/Cc parsing and silent drops.
func TestParseAddressList(t *testing.T) {
	got := ParseAddressList("Jane <jane@example.com>, not-an-address, bob@example.com")
	if len(got) != 2 {
		t.Fatalf("ParseAddressList returned %d participants, want 2: %+v", len(got), got)
	}
	if got[0].Email != "jane@example.com" || got[1].Email != "bob@example.com" {
		t.Errorf("unexpected participants: %+v", got)
	}

	if got := ParseAddressList("   "); got != nil {
		t.Errorf("blank list should be nil, got %+v", got)
	}
}

// TestNormalizeMultipart tests MIME walking: text/plain short-circuits, html
// is kept as fallback, headers are parsed.
func TestNormalizeMultipart(t *testing.T) {
	raw := &out.ProviderMessage{
		ID:           "m1",
		ThreadID:     "t1",
		InternalDate: 1700000000000,
		Payload: &out.ProviderPart{
			MimeType: "multipart/alternative",
			Headers: []out.ProviderHeader{
				{Name: "From", Value: "Jobs Bot <bot@example.com>"},
				{Name: "To", Value: "you@example.com"},
				{Name: "Subject", Value: "3 new roles"},
			},
			Parts: []*out.ProviderPart{
				{MimeType: "text/plain", Data: b64("Apply now: https://seek.com.au/job/123")},
				{MimeType: "text/html", Data: b64("<p>Apply <a href='https://seek.com.au/job/123'>here</a></p>")},
			},
		},
	}

	n := New()
	msg := n.Normalize(raw, "user-1", "gmail", "INBOX")

	if msg.ParseStatus != domain.ParseStatusParsed {
		t.Fatalf("ParseStatus = %q, want parsed", msg.ParseStatus)
	}
	if msg.BodyText != "Apply now: https://seek.com.au/job/123" {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
	if msg.From.Email != "bot@example.com" || msg.From.Name != "Jobs Bot" {
		t.Errorf("From = %+v", msg.From)
	}
	if msg.Subject != "3 new roles" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if !msg.SentAt.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Errorf("SentAt = %v", msg.SentAt)
	}
	if msg.ContentHash == "" {
		t.Error("ContentHash should be set")
	}
}

// TestNormalizeHTMLOnly tests the cleaned-HTML-to-text fallback.
func TestNormalizeHTMLOnly(t *testing.T) {
	raw := &out.ProviderMessage{
		ID:           "m2",
		InternalDate: 1700000000000,
		Payload: &out.ProviderPart{
			MimeType: "text/html",
			Headers: []out.ProviderHeader{
				{Name: "From", Value: "bot@example.com"},
				{Name: "Subject", Value: "hi"},
			},
			Data: b64("<html><body><p>Hello</p><script>track()</script></body></html>"),
		},
	}

	msg := New().Normalize(raw, "user-1", "gmail", "INBOX")

	if msg.ParseStatus != domain.ParseStatusParsed {
		t.Fatalf("ParseStatus = %q, want parsed", msg.ParseStatus)
	}
	if msg.BodyText != "Hello" {
		t.Errorf("BodyText = %q, want %q", msg.BodyText, "Hello")
	}
	if strings.Contains(msg.BodyHTML, "<script") {
		t.Error("stored HTML should have scripts stripped")
	}
}

// TestNormalizeUndecodablePart tests that a corrupt part fails the parse only
// when nothing else decodes.
func TestNormalizeUndecodablePart(t *testing.T) {
	raw := &out.ProviderMessage{
		ID:           "m3",
		InternalDate: 1700000000000,
		Payload: &out.ProviderPart{
			MimeType: "multipart/mixed",
			Headers: []out.ProviderHeader{
				{Name: "From", Value: "bot@example.com"},
			},
			Parts: []*out.ProviderPart{
				{MimeType: "text/plain", Data: "!!!not-base64url!!!"},
			},
		},
	}

	msg := New().Normalize(raw, "user-1", "gmail", "INBOX")
	if msg.ParseStatus != domain.ParseStatusFailed {
		t.Errorf("ParseStatus = %q, want failed", msg.ParseStatus)
	}

	// A sibling that decodes rescues the message.
	raw.Payload.Parts = append(raw.Payload.Parts, &out.ProviderPart{
		MimeType: "text/plain", Data: b64("fallback body"),
	})
	msg = New().Normalize(raw, "user-1", "gmail", "INBOX")
	if msg.ParseStatus != domain.ParseStatusParsed {
		t.Errorf("ParseStatus = %q, want parsed after sibling rescue", msg.ParseStatus)
	}
	if msg.BodyText != "fallback body" {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
}

// TestNormalizeNilPayload tests the missing-payload edge.
func TestNormalizeNilPayload(t *testing.T) {
	msg := New().Normalize(&out.ProviderMessage{ID: "m4"}, "user-1", "gmail", "INBOX")
	if msg.ParseStatus != domain.ParseStatusFailed {
		t.Errorf("ParseStatus = %q, want failed", msg.ParseStatus)
	}
	if msg.ContentHash == "" {
		t.Error("ContentHash should still be set")
	}
}

// TestContentHash tests determinism and input sensitivity.
func TestContentHash(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	a := ContentHash("bot@example.com", "Subject", at, "body")
	b := ContentHash("BOT@example.com ", " subject", at, "body")
	if a != b {
		t.Error("hash should ignore case and whitespace in from/subject")
	}

	if a == ContentHash("bot@example.com", "Subject", at, "other body") {
		t.Error("hash should change with body")
	}
	if a == ContentHash("bot@example.com", "Subject", at.Add(time.Second), "body") {
		t.Error("hash should change with sent time")
	}
}

// TestCleanHTML tests the text approximation.
func TestCleanHTML(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body>
		<p onclick="evil()">First line</p>
		<img src="https://t.example.net/pixel" width="1" height="1">
		<div>Second line</div>
		<p>A &amp; B</p>
	</body></html>`

	got := CleanHTML(html)

	if strings.Contains(got, "color:red") || strings.Contains(got, "evil") || strings.Contains(got, "pixel") {
		t.Errorf("noise survived cleaning: %q", got)
	}
	for _, want := range []string{"First line", "Second line", "A & B"} {
		if !strings.Contains(got, want) {
			t.Errorf("CleanHTML lost %q: %q", want, got)
		}
	}
	if !strings.Contains(got, "First line\n") {
		t.Errorf("block boundaries should become newlines: %q", got)
	}
}
