package mailbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

var errNoText = errors.New("no text part")

// Delivery is a fetched message handed to the caller. HasText is false when
// the message had no usable text part; such deliveries must be skipped.
type Delivery struct {
	UID         uint32
	UIDValidity uint32
	SeqNum      uint32
	MessageID   string
	Subject     string
	Text        string
	HasText     bool
}

// Key identifies the message across sessions.
func (d Delivery) Key() string {
	if d.MessageID != "" {
		return d.MessageID
	}
	return fmt.Sprintf("uid-%d-%d", d.UIDValidity, d.UID)
}

func parseHeader(raw []byte) (mail.Header, error) {
	if !bytes.HasSuffix(raw, []byte("\r\n\r\n")) && !bytes.HasSuffix(raw, []byte("\n\n")) {
		raw = append(raw[:len(raw):len(raw)], "\r\n\r\n"...)
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return mail.Header{}, fmt.Errorf("read header: %w", err)
	}
	return mail.Header{Header: message.Header{Header: h}}, nil
}

// extractText returns the plain text body of m without undoing any transfer
// encoding. Multipart bodies yield their first text/plain part.
func extractText(m Message) (string, error) {
	if m.Text == nil {
		return "", errNoText
	}

	var mediaType string
	var params map[string]string
	if len(m.Header) > 0 {
		if h, err := parseHeader(m.Header); err == nil {
			mediaType, params, _ = h.ContentType()
		}
	}

	headless := bytes.HasPrefix(m.Text, []byte("--"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if headless {
			boundary = leadingBoundary(m.Text)
		}
		return plainPart(m.Text, boundary)
	case mediaType == "text/plain":
		return string(m.Text), nil
	case headless:
		return plainPart(m.Text, leadingBoundary(m.Text))
	}
	return string(m.Text), nil
}

// leadingBoundary returns the boundary of a body that starts with its first
// delimiter line.
func leadingBoundary(text []byte) string {
	line, _, _ := bytes.Cut(text, []byte("\n"))
	return strings.TrimSuffix(strings.TrimPrefix(string(line), "--"), "\r")
}

func plainPart(text []byte, boundary string) (string, error) {
	if boundary == "" {
		return "", errors.New("multipart body without boundary")
	}
	mr := textproto.NewMultipartReader(bytes.NewReader(text), boundary)
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", errNoText
		}
		if err != nil {
			return "", fmt.Errorf("read multipart: %w", err)
		}
		if !strings.HasPrefix(strings.ToLower(p.Header.Get("Content-Type")), "text/plain") {
			continue
		}
		b, err := io.ReadAll(p)
		if err != nil {
			return "", fmt.Errorf("read text part: %w", err)
		}
		return string(b), nil
	}
}
