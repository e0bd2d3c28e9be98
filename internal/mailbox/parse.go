package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// errNoPlainText is returned when a message carries no usable text/plain
// body.
var errNoPlainText = errors.New("no text/plain body")

// parsedMessage holds the fields the pipeline needs from an inbound mail.
type parsedMessage struct {
	From      string
	Subject   string
	MessageID string
	Body      string
}

// parseHeader reads the sender, subject and Message-ID of a raw RFC 822
// message without touching its body.
func parseHeader(raw []byte) (*parsedMessage, *mail.Reader, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, nil, fmt.Errorf("reading message header: %w", err)
	}

	parsed := &parsedMessage{
		From: ExtractAddress(mr.Header.Get("From")),
	}

	subject, err := mr.Header.Subject()
	if err != nil {
		subject = mr.Header.Get("Subject")
	}
	parsed.Subject = strings.TrimSpace(subject)

	if id, err := mr.Header.MessageID(); err == nil {
		parsed.MessageID = id
	}

	return parsed, mr, nil
}

// extractPlainText returns the trimmed body of the first non-blank
// text/plain part that is not an attachment. Other content types are skipped; an HTML-only
// message yields errNoPlainText.
func extractPlainText(mr *mail.Reader) (string, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", errNoPlainText
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", fmt.Errorf("reading message part: %w", err)
		}

		disposition := strings.ToLower(part.Header.Get("Content-Disposition"))
		if strings.HasPrefix(strings.TrimSpace(disposition), "attachment") {
			continue
		}

		// RFC 2045: a part without Content-Type is text/plain.
		contentType := "text/plain"
		if raw := part.Header.Get("Content-Type"); raw != "" {
			mediaType, _, err := mime.ParseMediaType(raw)
			if err != nil {
				continue
			}
			contentType = mediaType
		}
		if contentType != "text/plain" {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return "", fmt.Errorf("reading text/plain part: %w", err)
		}

		if text := strings.TrimSpace(string(body)); text != "" {
			return text, nil
		}
	}
}
