// Package normalize turns raw provider messages into canonical, store-ready
// form: parsed participants, body text, cleaned HTML and a stable content
// hash.
package normalize

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"scout_server/core/domain"
	"scout_server/core/port/out"
	"scout_server/pkg/logger"
)

// =============================================================================
// Header Parsing
// =============================================================================

var (
	// Permissive "Display Name <addr>" pattern; tolerates quoted names and
	// bare addresses. Not strict RFC 5322 by design.
	namedAddrPattern = regexp.MustCompile(`^\s*"?([^"<]*?)"?\s*<([^<>\s]+@[^<>\s]+)>\s*$`)
	bareAddrPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// ParseAddress splits a From-style header value into display name and
// address. Unparseable input yields a Participant with only what matched.
func ParseAddress(value string) domain.Participant {
	value = strings.TrimSpace(value)
	if m := namedAddrPattern.FindStringSubmatch(value); m != nil {
		return domain.Participant{
			Name:  strings.TrimSpace(m[1]),
			Email: strings.ToLower(m[2]),
		}
	}
	if addr := bareAddrPattern.FindString(value); addr != "" {
		return domain.Participant{Email: strings.ToLower(addr)}
	}
	return domain.Participant{Name: value}
}

// ParseAddressList splits a To/Cc-style header on commas and keeps every
// token with an embedded address. Tokens without one are dropped silently.
func ParseAddressList(value string) []domain.Participant {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var participants []domain.Participant
	for _, token := range strings.Split(value, ",") {
		if bareAddrPattern.FindString(token) == "" {
			continue
		}
		participants = append(participants, ParseAddress(token))
	}
	return participants
}

// =============================================================================
// Normalizer
// =============================================================================

// Normalizer converts provider messages to canonical messages.
type Normalizer struct {
	log *logger.Logger
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{log: logger.Default()}
}

// Normalize builds the canonical representation of a raw provider message.
// It never returns an error: parse problems are captured in ParseStatus so
// callers can tell "nothing extracted" apart from "extraction failed".
func (n *Normalizer) Normalize(raw *out.ProviderMessage, userID, provider, label string) *domain.CanonicalMessage {
	msg := &domain.CanonicalMessage{
		UserID:            userID,
		Provider:          provider,
		ProviderMessageID: raw.ID,
		ThreadID:          raw.ThreadID,
		Label:             label,
		SentAt:            time.UnixMilli(raw.InternalDate).UTC(),
		ParseStatus:       domain.ParseStatusUnparsed,
	}

	if raw.Payload == nil {
		msg.ParseStatus = domain.ParseStatusFailed
		msg.ContentHash = ContentHash(msg.From.Email, msg.Subject, msg.SentAt, "")
		return msg
	}

	msg.From = ParseAddress(raw.Header("From"))
	msg.To = ParseAddressList(raw.Header("To"))
	msg.Cc = ParseAddressList(raw.Header("Cc"))
	msg.Subject = raw.Header("Subject")

	text, html := n.extractBody(raw.Payload)
	msg.BodyHTML = StripTrackingMarkup(html)
	if text != "" {
		msg.BodyText = text
	} else if html != "" {
		msg.BodyText = CleanHTML(html)
	}

	if msg.BodyText == "" && msg.BodyHTML == "" && hasBodyParts(raw.Payload) {
		// Parts existed but none decoded.
		msg.ParseStatus = domain.ParseStatusFailed
	} else {
		msg.ParseStatus = domain.ParseStatusParsed
	}

	msg.ContentHash = ContentHash(msg.From.Email, msg.Subject, msg.SentAt, msg.BodyText)
	return msg
}

// extractBody walks the MIME tree depth-first. A text/plain part
// short-circuits; the first text/html part is kept for cleaning; for
// multipart containers the first non-empty child result wins. A part that
// fails to decode is logged and skipped so its siblings still get a chance.
func (n *Normalizer) extractBody(part *out.ProviderPart) (text, html string) {
	if part == nil {
		return "", ""
	}

	switch {
	case strings.HasPrefix(part.MimeType, "text/plain"):
		decoded, err := decodePart(part.Data)
		if err != nil {
			n.log.Warn("[Normalizer] skipping undecodable text/plain part: %v", err)
			return "", ""
		}
		return decoded, ""

	case strings.HasPrefix(part.MimeType, "text/html"):
		decoded, err := decodePart(part.Data)
		if err != nil {
			n.log.Warn("[Normalizer] skipping undecodable text/html part: %v", err)
			return "", ""
		}
		return "", decoded

	default:
		for _, child := range part.Parts {
			t, h := n.extractBody(child)
			if text == "" {
				text = t
			}
			if html == "" {
				html = h
			}
			if text != "" {
				// text/plain short-circuits the scan.
				return text, html
			}
		}
		return text, html
	}
}

func hasBodyParts(part *out.ProviderPart) bool {
	if part == nil {
		return false
	}
	if strings.HasPrefix(part.MimeType, "text/") && part.Data != "" {
		return true
	}
	for _, child := range part.Parts {
		if hasBodyParts(child) {
			return true
		}
	}
	return false
}

// decodePart decodes provider base64url body data, tolerating missing
// padding.
func decodePart(data string) (string, error) {
	if data == "" {
		return "", nil
	}
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded), nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode body part: %w", err)
	}
	return string(decoded), nil
}

// =============================================================================
// Content Hash
// =============================================================================

// ContentHash digests the logical content of a message: sender, subject, sent
// time and body, with keys serialized in fixed sorted order. The same logical
// message hashes identically regardless of provider header ordering.
func ContentHash(from, subject string, sentAt time.Time, bodyText string) string {
	canonical := fmt.Sprintf(
		"body=%s\nfrom=%s\nsent_at=%s\nsubject=%s",
		bodyText,
		strings.ToLower(strings.TrimSpace(from)),
		sentAt.UTC().Format(time.RFC3339),
		strings.ToLower(strings.TrimSpace(subject)),
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
