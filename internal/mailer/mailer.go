// Package mailer delivers outreach email over SMTP with the resume
// attached, and classifies delivery failures so the scheduler can tell a
// dead recipient from a transient problem.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-message/mail"

	"recruitflow/outreach-service/internal/outreach"
)

// Mailer sends outreach messages through one SMTP account. The resume is
// read once at construction so a missing file fails fast, not mid-cycle.
type Mailer struct {
	host       string
	port       int
	from       string
	auth       smtp.Auth
	resume     []byte
	resumeName string
	log        *slog.Logger
}

// New builds a Mailer and loads the resume attachment from resumePath.
func New(host string, port int, user, password, resumePath string, log *slog.Logger) (*Mailer, error) {
	resume, err := os.ReadFile(resumePath)
	if err != nil {
		return nil, fmt.Errorf("read resume %s: %w", resumePath, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mailer{
		host:       host,
		port:       port,
		from:       user,
		auth:       smtp.PlainAuth("", user, password, host),
		resume:     resume,
		resumeName: filepath.Base(resumePath),
		log:        log,
	}, nil
}

// Send composes and delivers one message. A permanent recipient
// rejection is returned as *outreach.HardBounceError; everything else is
// a transient failure.
func (m *Mailer) Send(ctx context.Context, item outreach.Item, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := m.compose(item, subject, body)
	if err != nil {
		return fmt.Errorf("compose message for %s: %w", item.ContactEmail, err)
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := smtp.SendMail(addr, m.auth, m.from, []string{item.ContactEmail}, msg); err != nil {
		if isHardBounce(err) {
			return &outreach.HardBounceError{Recipient: item.ContactEmail}
		}
		return fmt.Errorf("smtp send to %s: %w", item.ContactEmail, err)
	}

	m.log.Info("outreach sent",
		"recipient", item.ContactEmail, "company", item.Company, "stage", item.Stage.String())
	return nil
}

func (m *Mailer) compose(item outreach.Item, subject, body string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: m.from}})
	h.SetAddressList("To", []*mail.Address{{Name: item.ContactName, Address: item.ContactEmail}})
	h.SetSubject(subject)

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(tw, body); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", "application/pdf")
	ah.SetFilename(m.resumeName)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, err
	}
	if _, err := aw.Write(m.resume); err != nil {
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isHardBounce reports whether the SMTP server permanently rejected the
// recipient address. 550/551/553 are the mailbox-unavailable class.
func isHardBounce(err error) bool {
	var proto *textproto.Error
	if !errors.As(err, &proto) {
		return false
	}
	switch proto.Code {
	case 550, 551, 553:
		return true
	}
	return false
}
