package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
)

// endpoint is the resolved SMTP submission target both variants share.
type endpoint struct {
	host     string
	port     int
	useTLS   bool // implicit TLS; otherwise STARTTLS is attempted
	username string
	secret   string
	from     string
	fromName string
}

type smtpSender struct {
	ep endpoint
}

// Well-known submission hosts for mailbox providers that use app passwords.
var mailboxHosts = map[string]string{
	"gmail.com":   "smtp.gmail.com",
	"outlook.com": "smtp-mail.outlook.com",
	"hotmail.com": "smtp-mail.outlook.com",
	"yahoo.com":   "smtp.mail.yahoo.com",
	"zoho.com":    "smtp.zoho.com",
}

func newMailboxSender(cred *model.MailboxCredential) (Sender, error) {
	at := strings.LastIndex(cred.Address, "@")
	if at < 1 || at == len(cred.Address)-1 {
		return nil, appErrors.NewValidation("address", "not a mail address")
	}
	domain := strings.ToLower(cred.Address[at+1:])
	host, ok := mailboxHosts[domain]
	if !ok {
		host = "smtp." + domain
	}
	return &smtpSender{ep: endpoint{
		host:     host,
		port:     587,
		username: cred.Address,
		secret:   cred.AppSecret,
		from:     cred.Address,
	}}, nil
}

func newRelaySender(cred *model.RelayCredential) (Sender, error) {
	if cred.Host == "" {
		return nil, appErrors.NewValidation("host", "relay host required")
	}
	port := cred.Port
	if port == 0 {
		port = 587
	}
	return &smtpSender{ep: endpoint{
		host:     cred.Host,
		port:     port,
		useTLS:   cred.UseTLS,
		username: cred.Username,
		secret:   cred.Secret,
		from:     cred.FromAddress,
		fromName: cred.FromName,
	}}, nil
}

func (s *smtpSender) Send(ctx context.Context, msg Message) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(s.ep.from); err != nil {
		return classify("send", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return classify("send", err)
	}
	wc, err := client.Data()
	if err != nil {
		return classify("send", err)
	}
	if _, err := wc.Write(buildMessage(s.ep, msg)); err != nil {
		wc.Close()
		return classify("send", err)
	}
	if err := wc.Close(); err != nil {
		return classify("send", err)
	}
	return client.Quit()
}

// Verify dials and authenticates without sending anything.
func (s *smtpSender) Verify(ctx context.Context) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Noop(); err != nil {
		return classify("verify", err)
	}
	return client.Quit()
}

func (s *smtpSender) connect(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.ep.host, s.ep.port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify("connect", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if s.ep.useTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: s.ep.host})
	}

	client, err := smtp.NewClient(conn, s.ep.host)
	if err != nil {
		conn.Close()
		return nil, classify("connect", err)
	}

	if !s.ep.useTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.ep.host}); err != nil {
				client.Close()
				return nil, classify("connect", err)
			}
		}
	}

	if s.ep.username != "" {
		auth := smtp.PlainAuth("", s.ep.username, s.ep.secret, s.ep.host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, classify("auth", err)
		}
	}
	return client, nil
}

func buildMessage(ep endpoint, msg Message) []byte {
	from := ep.from
	if ep.fromName != "" {
		from = fmt.Sprintf("%s <%s>", ep.fromName, ep.from)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// classify maps a raw SMTP/network failure onto the transient/permanent
// taxonomy. 4xx replies, timeouts and connection errors are transient; 5xx
// replies and authentication rejections are permanent.
func classify(op string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return appErrors.NewTransientTransport(op, err)
	}
	if _, ok := err.(*net.OpError); ok {
		return appErrors.NewTransientTransport(op, err)
	}
	if tp, ok := err.(*textproto.Error); ok {
		if tp.Code >= 400 && tp.Code < 500 {
			return appErrors.NewTransientTransport(op, err)
		}
		return appErrors.NewPermanentTransport(op, err)
	}
	if op == "auth" {
		return appErrors.NewPermanentTransport(op, err)
	}
	return appErrors.NewTransientTransport(op, err)
}
