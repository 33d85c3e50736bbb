// mailer.go implements outbound notification email delivery. Registration
// sends a best-effort verification email; delivery failure never fails the
// registration itself, because the account is already committed by the time
// the mail is composed. The mailer is a no-op when notifications.enabled is
// false or the SMTP host is not configured, so it is always safe to construct
// regardless of deployment environment.
package services

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/readmystudent/readmystudent/internal/config"
)

// Mailer sends notification emails over SMTP.
type Mailer struct {
	cfg *config.NotificationsConfig

	// send is swapped in tests to avoid a live SMTP connection.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer creates a mailer from configuration.
func NewMailer(cfg *config.NotificationsConfig) *Mailer {
	return &Mailer{cfg: cfg, send: smtp.SendMail}
}

// Enabled reports whether the mailer will actually deliver anything.
func (m *Mailer) Enabled() bool {
	return m != nil && m.cfg != nil && m.cfg.Enabled && m.cfg.SMTP.Host != ""
}

// SendVerificationEmail delivers the address-verification email for a new
// account. Returns nil without sending when the mailer is disabled.
func (m *Mailer) SendVerificationEmail(toEmail, fullName, verificationToken string) error {
	if !m.Enabled() {
		return nil
	}

	link := strings.TrimRight(m.cfg.VerificationBaseURL, "/") + "/verify?token=" + verificationToken

	subject := "Verify your email address"
	body := strings.Join([]string{
		fmt.Sprintf("Hello %s,", fullName),
		"",
		"Thanks for creating an account. Please confirm your email address by opening the link below:",
		"",
		"  " + link,
		"",
		"If you did not create this account, you can ignore this message.",
	}, "\r\n")

	return m.deliver(toEmail, subject, body)
}

// SendLinkConsumedEmail notifies the faculty author that one of their
// recommendation links was used. Best effort, like all notifications.
func (m *Mailer) SendLinkConsumedEmail(toEmail, fullName, linkRef string, consumedAt time.Time) error {
	if !m.Enabled() {
		return nil
	}

	subject := fmt.Sprintf("Recommendation link %s was used", linkRef)
	body := strings.Join([]string{
		fmt.Sprintf("Hello %s,", fullName),
		"",
		fmt.Sprintf("The single-use recommendation link %s was opened on %s.",
			linkRef, consumedAt.UTC().Format(time.RFC1123)),
		"",
		"The link is now spent and cannot be used again. If you did not expect",
		"this, you can generate and share a fresh link at any time.",
	}, "\r\n")

	return m.deliver(toEmail, subject, body)
}

// deliver composes headers and hands the message to SMTP.
func (m *Mailer) deliver(toEmail, subject, body string) error {
	smtpCfg := &m.cfg.SMTP
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, toEmail, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	auth := smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)

	var err error
	if smtpCfg.UseTLS {
		err = m.sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, []string{toEmail}, msg)
	} else {
		err = m.send(addr, auth, smtpCfg.From, []string{toEmail}, msg)
	}
	if err != nil {
		slog.Warn("notification email delivery failed", "to", toEmail, "subject", subject, "error", err)
	}
	return err
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// For port 587 STARTTLS, smtp.SendMail handles the upgrade automatically; this
// path is used whenever UseTLS=true so the config is unambiguous: UseTLS=true
// always means an encrypted connection.
func (m *Mailer) sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		// Fall back to STARTTLS via the standard path (port 587 pattern)
		return m.send(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
