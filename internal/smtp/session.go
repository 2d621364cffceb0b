package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/sparkpost-relay-lite/internal/email"
	"github.com/shineum/sparkpost-relay-lite/internal/parser"
	"github.com/shineum/sparkpost-relay-lite/internal/provider"
	"github.com/shineum/sparkpost-relay-lite/internal/sparkpost"
)

const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

const (
	// DefaultMaxMessageSize is used when SessionConfig.MaxMessageSize is zero.
	DefaultMaxMessageSize = 10 * 1024 * 1024

	defaultIdleTimeout = 60 * time.Second
)

// SessionConfig holds the per-connection settings shared by all sessions
// of a server.
type SessionConfig struct {
	Hostname       string
	Auth           *Authenticator
	Provider       provider.Provider
	TLSConfig      *tls.Config
	MaxMessageSize int64
	IdleTimeout    time.Duration
}

// Session drives the SMTP state machine for one client connection.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int
	cfg    SessionConfig
	log    *slog.Logger

	tlsActive bool

	// current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a session for conn. Zero values in cfg are replaced by
// defaults and a nil Auth disables authentication.
func NewSession(conn net.Conn, cfg SessionConfig) *Session {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator("", "")
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}

	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		state:  stateConnected,
		cfg:    cfg,
		log: slog.With(
			"session", uuid.NewString(),
			"remote_addr", conn.RemoteAddr().String(),
		),
	}
}

// Handle serves the connection until the client quits, the connection fails
// or ctx is cancelled.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP sparkpost-relay-lite", s.cfg.Hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			s.log.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.log.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if s.handleCommand(ctx, cmd, arg) {
			return
		}
	}
}

// handleCommand dispatches one command and reports whether the session ends.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	if s.state < stateGreeted {
		s.state = stateGreeted
	}

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.cfg.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.cfg.Hostname, arg)
	if s.cfg.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.cfg.Auth.Enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250-SIZE %d", s.cfg.MaxMessageSize)
	s.writeLine("250 OK")
}

// handleSTARTTLS upgrades the connection. The client must greet again
// afterwards.
func (s *Session) handleSTARTTLS() {
	if s.cfg.TLSConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.cfg.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.log.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	s.mailFrom = ""
	s.rcptTo = nil
}

func (s *Session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.cfg.Auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if s.state >= stateAuthOK {
		s.writeLine("503 Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	switch {
	case err == nil:
		s.state = stateAuthOK
		s.writeLine("235 Authentication successful")
	case errors.Is(err, errAuthCancelled):
		s.writeLine("501 Authentication cancelled")
	case errors.Is(err, ErrMalformedAuth):
		s.writeLine("501 Malformed authentication response")
	case errors.Is(err, ErrBadCredentials):
		s.log.Warn("authentication failed", "mechanism", mechanism)
		s.writeLine("535 Authentication failed")
	default:
		s.log.Debug("authentication aborted", "error", err)
	}
}

var errAuthCancelled = errors.New("smtp: authentication cancelled")

// authPlain verifies AUTH PLAIN, asking for the response when it was not
// sent along with the command.
func (s *Session) authPlain(initial string) error {
	if initial == "" {
		resp, err := s.challenge("334 ")
		if err != nil {
			return err
		}
		initial = resp
	}
	if initial == "*" {
		return errAuthCancelled
	}
	return s.cfg.Auth.VerifyPlain(initial)
}

// authLogin runs the username and password challenges of AUTH LOGIN.
func (s *Session) authLogin() error {
	user, err := s.challenge("334 VXNlcm5hbWU6")
	if err != nil {
		return err
	}
	if user == "*" {
		return errAuthCancelled
	}

	pass, err := s.challenge("334 UGFzc3dvcmQ6")
	if err != nil {
		return err
	}
	if pass == "*" {
		return errAuthCancelled
	}
	return s.cfg.Auth.VerifyLogin(user, pass)
}

func (s *Session) challenge(prompt string) (string, error) {
	s.writeLine("%s", prompt)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read AUTH response: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.cfg.Auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	if s.state >= stateMailFrom {
		s.writeLine("503 Nested MAIL command")
		return
	}

	if !hasPrefixFold(arg, "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	path, params := splitPath(arg[len("FROM:"):])
	addr := extractAddress(path)
	if addr == "" && path != "<>" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	if size, ok := params["SIZE"]; ok {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			s.writeLine("501 Syntax: SIZE=<bytes>")
			return
		}
		if n > s.cfg.MaxMessageSize {
			s.writeLine("552 Message size exceeds fixed maximum message size")
			return
		}
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !hasPrefixFold(arg, "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	path, _ := splitPath(arg[len("TO:"):])
	addr := extractAddress(path)
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

func (s *Session) handleDATA(ctx context.Context) {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	raw, err := s.readData()
	if errors.Is(err, errMessageTooLarge) {
		s.log.Warn("message rejected", "reason", "too large", "limit", s.cfg.MaxMessageSize)
		s.writeLine("552 Message size exceeds fixed maximum message size")
		s.resetTransaction()
		return
	}
	if err != nil {
		s.log.Error("error reading DATA", "error", err)
		return
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		s.log.Error("failed to parse message", "error", err)
		s.writeLine("550 Failed to process message")
		s.resetTransaction()
		return
	}

	msg.Envelope = email.Envelope{From: s.mailFrom, Recipients: s.rcptTo}
	if msg.From == "" {
		msg.From = s.mailFrom
	}

	if err := s.cfg.Provider.Send(ctx, msg); err != nil {
		s.log.Error("provider send failed",
			"provider", s.cfg.Provider.Name(),
			"error", err,
		)
		s.writeLine("%s", deliveryReply(err))
		s.resetTransaction()
		return
	}

	s.log.Info("message relayed",
		"provider", s.cfg.Provider.Name(),
		"recipients", len(s.rcptTo),
		"bytes", len(raw),
	)
	s.writeLine("250 OK message queued")
	s.resetTransaction()
}

var errMessageTooLarge = errors.New("smtp: message too large")

// readData reads the DATA payload up to the terminating dot line and undoes
// dot-stuffing. When the size limit is exceeded the rest of the payload is
// still consumed so the session stays in sync, and errMessageTooLarge is
// returned.
func (s *Session) readData() ([]byte, error) {
	var buf bytes.Buffer
	tooLarge := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}

		if tooLarge {
			continue
		}
		if int64(buf.Len()+len(line)) > s.cfg.MaxMessageSize {
			tooLarge = true
			buf.Reset()
			continue
		}
		buf.WriteString(line)
	}

	if tooLarge {
		return nil, errMessageTooLarge
	}
	return buf.Bytes(), nil
}

// deliveryReply maps a provider error to an SMTP reply. Errors the client
// cannot fix by retrying get a permanent 554; everything else is 451.
func deliveryReply(err error) string {
	var attErr *sparkpost.AttachmentError
	var statusErr *sparkpost.StatusError

	switch {
	case errors.Is(err, sparkpost.ErrNoRecipients):
		return "554 No valid recipients"
	case errors.As(err, &attErr):
		return "554 Attachment could not be processed"
	case errors.As(err, &statusErr) && statusErr.Permanent():
		return "554 Message rejected by provider"
	default:
		return "451 Temporary failure, please try again later"
	}
}

// resetTransaction clears the mail transaction but keeps greeting and
// authentication state.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	switch {
	case s.state >= stateAuthOK && s.cfg.Auth.Enabled():
		s.state = stateAuthOK
	case s.state >= stateGreeted:
		s.state = stateGreeted
	}
}

func (s *Session) writeLine(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		s.log.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.log.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits a command line into the upper-cased verb and its
// argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// splitPath separates the path of a MAIL or RCPT argument from its
// ESMTP parameters. Parameter keys are upper-cased.
func splitPath(arg string) (string, map[string]string) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return "", nil
	}

	params := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		key, value, _ := strings.Cut(f, "=")
		params[strings.ToUpper(key)] = value
	}
	return fields[0], params
}

// extractAddress returns the address inside angle brackets, or the bare
// argument when there are none.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	return s
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
