// Package notify sends outfit snapshots to the configured recipient.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/outfit-relay/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

const (
	snapshotName   = "outfit.png"
	defaultTimeout = 30 * time.Second
	// implicitTLSPort speaks TLS from the first byte instead of STARTTLS.
	implicitTLSPort = 465
)

var ErrNotConfigured = errors.New("email configuration missing")

const htmlBody = `<html>
    <body style="font-family: Arial, sans-serif; padding: 20px;">
        <h2>Someone created a new outfit for you!</h2>
        <p>Check out this outfit combination from your Outfit Creator:</p>
        <p><img src="cid:` + snapshotName + `" style="max-width: 600px; border: 2px solid #000;"></p>
        <p style="color: #666; font-size: 12px; margin-top: 30px;">
            Generated from the Outfit Creator
        </p>
    </body>
</html>`

// Dispatcher delivers a decoded outfit snapshot.
type Dispatcher interface {
	SendOutfit(ctx context.Context, image []byte) error
}

// NewDispatcher returns an SMTP dispatcher, or one that always fails with
// ErrNotConfigured when credentials are missing.
func NewDispatcher(logger *logrus.Logger, cfg *config.Config) Dispatcher {
	if !cfg.EmailConfigured() {
		logger.WithField("component", "mailer").Warn("Email credentials missing, outfit emails will fail")
		return unconfigured{}
	}

	host, port := cfg.SMTPHost, cfg.SMTPPort
	if cfg.EmailService == "gmail" {
		host, port = "smtp.gmail.com", 587
	}
	timeout := cfg.EmailTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &SMTPDispatcher{
		host:     host,
		port:     port,
		username: cfg.EmailUser,
		password: cfg.EmailPass,
		from:     cfg.EmailUser,
		to:       cfg.NotificationEmail,
		subject:  cfg.EmailSubject,
		timeout:  timeout,
		log:      logger.WithField("component", "mailer"),
	}
}

type SMTPDispatcher struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
	subject  string
	timeout  time.Duration
	log      *logrus.Entry
}

// BuildMessage composes the HTML email with image embedded inline.
func (d *SMTPDispatcher) BuildMessage(image []byte) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(d.from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(d.to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(d.subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextHTML, htmlBody)
	if err := m.EmbedReader(snapshotName, bytes.NewReader(image)); err != nil {
		return nil, fmt.Errorf("embed snapshot: %w", err)
	}
	return m, nil
}

func (d *SMTPDispatcher) SendOutfit(ctx context.Context, image []byte) error {
	start := time.Now()
	log := d.log.WithFields(logrus.Fields{
		"operation": "send_outfit",
		"host":      d.host,
		"bytes":     len(image),
	})

	m, err := d.BuildMessage(image)
	if err != nil {
		log.WithError(err).Error("Failed to build outfit email")
		return err
	}

	client, err := d.newClient()
	if err != nil {
		log.WithError(err).Error("Failed to create SMTP client")
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		log.WithError(err).Error("Failed to send outfit email")
		return fmt.Errorf("smtp send: %w", err)
	}

	log.WithField("duration", time.Since(start)).Info("Outfit email sent")
	return nil
}

func (d *SMTPDispatcher) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(d.port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(d.username),
		mail.WithPassword(d.password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(d.timeout),
	}
	if d.implicitTLS() {
		opts = append(opts, mail.WithSSLPort(false))
	}
	return mail.NewClient(d.host, opts...)
}

func (d *SMTPDispatcher) implicitTLS() bool {
	return d.port == implicitTLSPort
}

type unconfigured struct{}

func (unconfigured) SendOutfit(context.Context, []byte) error { return ErrNotConfigured }
