package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
)

// SMTPServer accepts inbound mail and stores one processed copy per
// envelope recipient.
type SMTPServer struct {
	server *smtp.Server
	log    *logrus.Logger
}

// SMTPOptions configures the inbound listener.
type SMTPOptions struct {
	Addr            string
	Hostname        string
	MaxMessageBytes int
	MaxRecipients   int
}

// NewSMTPServer creates the inbound SMTP listener. The listener is
// anonymous and stores whatever a client hands it.
func NewSMTPServer(w MessageWriter, opts SMTPOptions, log *logrus.Logger) *SMTPServer {
	backend := &smtpBackend{writer: w, log: log}

	srv := smtp.NewServer(backend)
	srv.Addr = opts.Addr
	srv.Domain = opts.Hostname
	srv.MaxMessageBytes = opts.MaxMessageBytes
	srv.MaxRecipients = opts.MaxRecipients
	srv.AuthDisabled = true
	srv.ReadTimeout = time.Minute
	srv.WriteTimeout = time.Minute

	return &SMTPServer{server: srv, log: log}
}

// ListenAndServe blocks serving SMTP until Close is called.
func (s *SMTPServer) ListenAndServe() error {
	s.log.WithField("addr", s.server.Addr).Info("SMTP listener started")
	return s.server.ListenAndServe()
}

// Close shuts the listener down.
func (s *SMTPServer) Close() error {
	return s.server.Close()
}

type smtpBackend struct {
	writer MessageWriter
	log    *logrus.Logger
}

func (b *smtpBackend) Login(state *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	return nil, smtp.ErrAuthUnsupported
}

func (b *smtpBackend) AnonymousLogin(state *smtp.ConnectionState) (smtp.Session, error) {
	return &smtpSession{backend: b, state: state}, nil
}

type smtpSession struct {
	backend *smtpBackend
	state   *smtp.ConnectionState

	from string
	rcpt []string
}

func (s *smtpSession) Mail(from string, opts smtp.MailOptions) error {
	s.from = from
	s.rcpt = s.rcpt[:0]
	return nil
}

func (s *smtpSession) Rcpt(to string) error {
	s.rcpt = append(s.rcpt, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	if len(s.rcpt) == 0 {
		return fmt.Errorf("no recipients")
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read message data: %w", err)
	}

	withSSL := s.state != nil && s.state.TLS.HandshakeComplete

	stored, err := StoreRaw(context.Background(), s.backend.writer, raw, Options{
		MailFrom:        s.from,
		RcptTo:          s.rcpt,
		ReceivedWithSSL: withSSL,
	})
	if err != nil {
		s.backend.log.WithError(err).Error("Failed to store inbound message")
		return fmt.Errorf("failed to store message: %w", err)
	}

	s.backend.log.WithFields(logrus.Fields{
		"from":   s.from,
		"copies": len(stored),
		"size":   len(raw),
	}).Info("Inbound message stored")

	return nil
}

func (s *smtpSession) Reset() {
	s.from = ""
	s.rcpt = s.rcpt[:0]
}

func (s *smtpSession) Logout() error {
	return nil
}
