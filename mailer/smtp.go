package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"dripline/automation"
	"dripline/models"
	"dripline/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Transport delivers composed messages. *gomail.Dialer satisfies it.
type Transport interface {
	DialAndSend(m ...*gomail.Message) error
}

// Directory looks up what a send needs from storage.
type Directory interface {
	GetTemplate(ctx context.Context, companyID, id uint) (*models.Template, error)
	ActiveSender(ctx context.Context, companyID uint) (*models.Sender, error)
}

type Config struct {
	Directory Directory
	Cache     *ClientCache
	// EncryptionKey decrypts stored SMTP passwords.
	EncryptionKey string
	// MessageIDDomain is the right-hand side of generated Message-IDs.
	MessageIDDomain string
	SendTimeout     time.Duration
	NewTransport    func(sender models.Sender, password string) Transport
	Logger          logrus.FieldLogger
}

func (c *Config) defaults() error {
	if c.Directory == nil {
		return errors.New("directory is required")
	}
	if c.Cache == nil {
		c.Cache = NewClientCache()
	}
	if c.MessageIDDomain == "" {
		c.MessageIDDomain = "dripline.local"
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.NewTransport == nil {
		c.NewTransport = NewDialer
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return nil
}

// SMTPMailer sends sequence emails through each company's own SMTP sender.
type SMTPMailer struct {
	directory     Directory
	cache         *ClientCache
	encryptionKey string
	domain        string
	timeout       time.Duration
	newTransport  func(sender models.Sender, password string) Transport
	log           logrus.FieldLogger
}

var _ automation.Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg Config) (*SMTPMailer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid mailer configuration: %w", err)
	}
	return &SMTPMailer{
		directory:     cfg.Directory,
		cache:         cfg.Cache,
		encryptionKey: cfg.EncryptionKey,
		domain:        cfg.MessageIDDomain,
		timeout:       cfg.SendTimeout,
		newTransport:  cfg.NewTransport,
		log:           cfg.Logger.WithField("component", "smtp_mailer"),
	}, nil
}

// NewDialer builds a gomail dialer for the sender. Port 465 uses implicit TLS,
// anything else upgrades with STARTTLS when the server offers it.
func NewDialer(sender models.Sender, password string) Transport {
	d := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, password)
	d.SSL = sender.SMTPPort == 465
	d.TLSConfig = &tls.Config{ServerName: sender.SMTPHost}
	return d
}

func (m *SMTPMailer) SendToLead(ctx context.Context, req automation.SendRequest) (automation.SendResult, error) {
	companyID := req.Actor.CompanyID

	tmpl, err := m.directory.GetTemplate(ctx, companyID, req.TemplateID)
	if err != nil {
		return automation.SendResult{}, fmt.Errorf("load template %d: %w", req.TemplateID, err)
	}

	client, err := m.cache.GetOrCreate(companyID, func() (*Client, error) {
		return m.newClient(ctx, companyID)
	})
	if err != nil {
		return automation.SendResult{}, err
	}

	data := newTemplateData(req.Lead, req.CustomData)
	subject, body, err := Render(*tmpl, data)
	if err != nil {
		return automation.SendResult{}, err
	}

	messageID := m.messageID(req.IdempotencyKey)

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(client.Sender.FromEmail, client.Sender.FromName))
	msg.SetHeader("To", msg.FormatAddress(req.Lead.Email, data.FullName))
	msg.SetHeader("Subject", subject)
	msg.SetHeader("Message-ID", messageID)
	if req.IdempotencyKey != "" {
		msg.SetHeader("X-Idempotency-Key", req.IdempotencyKey)
	}
	msg.SetBody("text/html", body)

	if err := m.send(ctx, client.Transport, msg); err != nil {
		// Credentials or host may have changed since the client was cached.
		m.cache.Invalidate(companyID)
		return automation.SendResult{}, fmt.Errorf("send to %s via %s: %w", req.Lead.Email, client.Sender.SMTPHost, err)
	}

	m.log.WithFields(logrus.Fields{
		"company_id":  companyID,
		"lead_id":     req.Lead.ID,
		"template_id": req.TemplateID,
		"message_id":  messageID,
	}).Debug("Sequence email sent")

	return automation.SendResult{MessageID: messageID}, nil
}

func (m *SMTPMailer) newClient(ctx context.Context, companyID uint) (*Client, error) {
	sender, err := m.directory.ActiveSender(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load sender for company %d: %w", companyID, err)
	}

	password, err := utils.Decrypt(m.encryptionKey, sender.SMTPPassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt SMTP password of sender %d: %w", sender.ID, err)
	}

	return &Client{Sender: *sender, Transport: m.newTransport(*sender, password)}, nil
}

// messageID is derived from the idempotency key, so a resend of the same step
// carries the same Message-ID and receiving servers can drop the duplicate.
func (m *SMTPMailer) messageID(key string) string {
	id := uuid.New()
	if key != "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(key))
	}
	return fmt.Sprintf("<%s@%s>", id.String(), m.domain)
}

// send bounds the SMTP exchange by the timeout. gomail has no context support,
// so an abandoned exchange finishes in the background.
func (m *SMTPMailer) send(ctx context.Context, t Transport, msg *gomail.Message) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- t.DialAndSend(msg)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp exchange: %w", ctx.Err())
	}
}
