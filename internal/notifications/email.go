package notifications

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/nestwatch/nestwatch/internal/config"
)

// smtpDialTimeout is swapped out by tests to script the SMTP conversation.
var smtpDialTimeout = net.DialTimeout

// SMTPSender delivers plain-text email over SMTP, upgrading to STARTTLS
// when the server offers it.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewSMTPSender(cfg *config.Config) *SMTPSender {
	return &SMTPSender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	conn, err := smtpDialTimeout("tcp", addr, sendTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	auth, err := s.negotiateAuth(client)
	if err != nil {
		return err
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(s.message(to, subject, body)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return client.Quit()
}

// negotiateAuth picks an auth mechanism the server advertises. PLAIN is
// preferred, LOGIN is the fallback. Servers that hide AUTH until after
// STARTTLS still get PLAIN tried.
func (s *SMTPSender) negotiateAuth(client *smtp.Client) (smtp.Auth, error) {
	if s.username == "" || s.password == "" {
		return nil, nil
	}

	ok, mechanisms := client.Extension("AUTH")
	if !ok {
		return &plainAuth{username: s.username, password: s.password}, nil
	}

	advertised := strings.Fields(mechanisms)
	for _, m := range advertised {
		if m == "PLAIN" {
			return &plainAuth{username: s.username, password: s.password}, nil
		}
	}
	for _, m := range advertised {
		if m == "LOGIN" {
			return LoginAuth(s.username, s.password), nil
		}
	}
	return nil, fmt.Errorf("server advertises AUTH %s, none are supported", mechanisms)
}

func (s *SMTPSender) message(to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// plainAuth is RFC 4616 PLAIN without the stdlib's TLS-only check; relays
// on trusted networks may never upgrade the connection.
type plainAuth struct {
	identity string
	username string
	password string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	resp := []byte(a.identity + "\x00" + a.username + "\x00" + a.password)
	return "PLAIN", resp, nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("unexpected server challenge for PLAIN auth")
	}
	return nil, nil
}

// LoginAuth implements the LOGIN mechanism for servers that do not offer
// PLAIN, notably some Microsoft relays.
func LoginAuth(username, password string) smtp.Auth {
	return &loginAuth{username: username, password: password}
}

type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.TrimSpace(string(fromServer)) {
	case "Username:":
		return []byte(a.username), nil
	case "Password:":
		return []byte(a.password), nil
	}
	return nil, fmt.Errorf("unexpected LOGIN prompt %q", fromServer)
}
