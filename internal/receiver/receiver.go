// Package receiver implements mailbox sessions over IMAP and POP3.
package receiver

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tracyhatemice/dispatchmail/internal/mailbox"
)

const dialTimeout = 30 * time.Second

// New returns the dialer for protocol ("imap" or "pop3").
func New(protocol, host string, port int, username, password string, useTLS bool, logger *slog.Logger) (mailbox.Dialer, error) {
	switch strings.ToLower(protocol) {
	case "", "imap":
		return NewIMAP(host, port, username, password, useTLS, logger), nil
	case "pop3":
		return NewPOP3(host, port, username, password, useTLS, logger), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", protocol)
	}
}

// splitMessage cuts a raw RFC 5322 message into its header block, including
// the terminating blank line, and its body. A message without a blank line
// is all header.
func splitMessage(raw []byte) (header, text []byte) {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[:i+4], raw[i+4:]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i+2], raw[i+2:]
	}
	return raw, nil
}
