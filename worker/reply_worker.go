package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"dripline/metrics"
	"dripline/models"
	"dripline/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
)

// replyLookback bounds the first poll of a sender that was never checked.
const replyLookback = 7 * 24 * time.Hour

// InboundMessage is the part of a received email needed to match a reply.
type InboundMessage struct {
	From    string
	Subject string
	Date    time.Time
}

// ReplyRecorder applies a detected reply to leads and their enrollments.
type ReplyRecorder interface {
	RecordReply(ctx context.Context, companyID uint, email string, at time.Time) (int, error)
}

// SenderSource lists inboxes to watch and records poll outcomes.
type SenderSource interface {
	ListIMAPSenders(ctx context.Context) ([]models.Sender, error)
	// MarkSenderChecked records a poll outcome. A nil at keeps the previous
	// watermark so a failed poll is retried from the same point.
	MarkSenderChecked(ctx context.Context, id uint, at *time.Time, lastError string) error
}

// MailboxFetcher returns messages received in the sender's mailbox since the given time.
type MailboxFetcher interface {
	FetchSince(ctx context.Context, sender models.Sender, password string, since time.Time) ([]InboundMessage, error)
}

// ReplyWorker polls each sender's IMAP inbox and exits enrollments of leads
// that replied.
type ReplyWorker struct {
	senders       SenderSource
	replies       ReplyRecorder
	fetcher       MailboxFetcher
	encryptionKey string
	interval      time.Duration
	log           logrus.FieldLogger
	now           func() time.Time
}

func NewReplyWorker(senders SenderSource, replies ReplyRecorder, fetcher MailboxFetcher, encryptionKey string, interval time.Duration, logger logrus.FieldLogger) *ReplyWorker {
	if fetcher == nil {
		fetcher = IMAPFetcher{}
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReplyWorker{
		senders:       senders,
		replies:       replies,
		fetcher:       fetcher,
		encryptionKey: encryptionKey,
		interval:      interval,
		log:           logger.WithField("component", "reply_worker"),
		now:           time.Now,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.log.WithField("interval", rw.interval.String()).Info("Reply worker started")

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.log.Info("Reply worker shutting down...")
			return
		case <-ticker.C:
			rw.Poll(ctx)
		}
	}
}

// Poll checks every watched inbox once. A failing inbox is recorded on its
// sender and does not stop the others.
func (rw *ReplyWorker) Poll(ctx context.Context) {
	senders, err := rw.senders.ListIMAPSenders(ctx)
	if err != nil {
		rw.log.WithError(err).Error("Error fetching IMAP senders")
		return
	}

	for _, sender := range senders {
		checkedAt := rw.now()
		watermark := &checkedAt
		lastError := ""
		if err := rw.pollSender(ctx, sender); err != nil {
			watermark = nil
			lastError = err.Error()
			utils.LogError("reply_poll_failed", err, map[string]interface{}{
				"sender_id":  sender.ID,
				"company_id": sender.CompanyID,
				"imap_host":  sender.IMAPHost,
			})
		}
		if err := rw.senders.MarkSenderChecked(ctx, sender.ID, watermark, lastError); err != nil {
			rw.log.WithError(err).WithField("sender_id", sender.ID).Warn("Failed to record inbox poll")
		}
	}
}

func (rw *ReplyWorker) pollSender(ctx context.Context, sender models.Sender) error {
	password, err := utils.Decrypt(rw.encryptionKey, sender.IMAPPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	since := rw.now().Add(-replyLookback)
	if sender.LastCheckedAt != nil {
		since = *sender.LastCheckedAt
	}

	messages, err := rw.fetcher.FetchSince(ctx, sender, password, since)
	if err != nil {
		return err
	}

	own := strings.ToLower(sender.FromEmail)
	for _, msg := range messages {
		from := strings.ToLower(msg.From)
		if from == "" || from == own {
			continue
		}
		at := msg.Date
		if at.IsZero() {
			at = rw.now()
		}

		exited, err := rw.replies.RecordReply(ctx, sender.CompanyID, from, at)
		if err != nil {
			return fmt.Errorf("record reply from %s: %w", from, err)
		}
		metrics.RepliesDetected.Inc()
		if exited > 0 {
			rw.log.WithFields(logrus.Fields{
				"company_id": sender.CompanyID,
				"from":       from,
				"exited":     exited,
			}).Info("Reply ended sequence enrollments")
		}
	}
	return nil
}

// IMAPFetcher reads message headers over IMAP without marking them seen.
type IMAPFetcher struct{}

func (IMAPFetcher) FetchSince(ctx context.Context, sender models.Sender, password string, since time.Time) ([]InboundMessage, error) {
	addr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)

	var c *client.Client
	var err error
	if sender.IMAPPort == 143 {
		c, err = client.Dial(addr)
		if err == nil {
			err = c.StartTLS(&tls.Config{ServerName: sender.IMAPHost})
		}
	} else {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: sender.IMAPHost})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(sender.IMAPUsername, password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := sender.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}

	fetched := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate}, fetched)
	}()

	var out []InboundMessage
	for msg := range fetched {
		if ctx.Err() != nil {
			continue
		}
		literal := msg.GetBody(section)
		if literal == nil {
			continue
		}
		parsed, err := ParseHeaders(literal)
		if err != nil {
			continue
		}
		if parsed.Date.IsZero() {
			parsed.Date = msg.InternalDate
		}
		// SINCE has day granularity.
		if parsed.Date.Before(since) {
			continue
		}
		out = append(out, parsed)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error during fetch: %w", err)
	}
	return out, ctx.Err()
}

// ParseHeaders extracts the sender address, subject and date from a raw
// RFC 5322 header block.
func ParseHeaders(r io.Reader) (InboundMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("failed to create message reader: %w", err)
	}
	defer mr.Close()

	from, err := mr.Header.AddressList("From")
	if err != nil {
		return InboundMessage{}, fmt.Errorf("failed to parse From: %w", err)
	}
	if len(from) == 0 {
		return InboundMessage{}, fmt.Errorf("message has no From address")
	}

	subject, _ := mr.Header.Subject()
	date, _ := mr.Header.Date()

	return InboundMessage{
		From:    from[0].Address,
		Subject: subject,
		Date:    date,
	}, nil
}
