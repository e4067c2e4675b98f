// Package notify sends an email when an export finishes.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"caedrepo/internal/ledger"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("caedrepo.notify")

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && len(c.To) > 0
}

type sendFunc func(m *email.Email, addr string, auth smtp.Auth) error

type Mailer struct {
	config SmtpConfig
	send   sendFunc
}

func NewMailer(config SmtpConfig) Mailer {
	return Mailer{
		config: config,
		send: func(m *email.Email, addr string, auth smtp.Auth) error {
			return m.Send(addr, auth)
		},
	}
}

func subject(e ledger.Entry) string {
	if e.Status == ledger.StatusDone {
		return fmt.Sprintf("Export %s (%s) ready", e.Form, e.Subprogram)
	}
	return fmt.Sprintf("Export %s (%s) %s", e.Form, e.Subprogram, e.Status)
}

func body(e ledger.Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Environment: %s\n", e.Environment)
	fmt.Fprintf(&sb, "Form: %s (%s)\n", e.Form, e.FormCode)
	fmt.Fprintf(&sb, "Subprogram: %s, source: %s\n", e.Subprogram, e.Source)
	fmt.Fprintf(&sb, "Started: %s\n", e.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Finished: %s\n", e.FinishedAt.Format("2006-01-02 15:04:05"))
	if e.Path != "" {
		fmt.Fprintf(&sb, "\nFile: %s\n", e.Path)
	}
	if e.Error != "" {
		fmt.Fprintf(&sb, "\nError: %s\n", e.Error)
	}
	return sb.String()
}

// NotifyExport mails the outcome of an export to the configured recipients.
func (m Mailer) NotifyExport(ctx context.Context, e ledger.Entry) error {
	_, span := tracer.Start(ctx, "notifyExport")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("caedrepo <%s>", m.config.EmailAddress)
	mail.To = m.config.To
	mail.Subject = subject(e)
	mail.Text = []byte(body(e))

	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	err := m.send(
		mail,
		addr,
		smtp.PlainAuth("", m.config.EmailAddress, m.config.Password, m.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = m.send(mail, addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
