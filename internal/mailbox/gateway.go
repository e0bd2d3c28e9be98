// Package mailbox polls the bot inbox for unread mail from registered
// senders and delivers plain-text replies.
package mailbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/model"
)

// Gateway reads unread mail over IMAP and sends replies over SMTP on
// behalf of the bot address.
type Gateway struct {
	imapClient *IMAPClient
	smtpConfig SMTPConfig
	address    string
	mailbox    string
	timeout    time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewGateway creates a Gateway from the mail configuration. The bot
// address doubles as the IMAP and SMTP username.
func NewGateway(cfg model.MailConfig, log *zap.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}

	return &Gateway{
		imapClient: NewIMAPClient(
			cfg.IMAPHost, cfg.IMAPPort,
			cfg.Address, cfg.Password,
			cfg.IMAPSecurity, timeout,
		),
		smtpConfig: SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     strconv.Itoa(cfg.SMTPPort),
			Username: cfg.Address,
			Password: cfg.Password,
			Security: cfg.SMTPSecurity,
		},
		address: cfg.Address,
		mailbox: mailbox,
		timeout: timeout,
		log:     log.With(zap.String("component", "mailbox")),
		now:     time.Now,
	}
}

// CheckNewMessages returns the unread messages whose sender is in allowed
// and whose plain-text body is non-empty, oldest first. Senders are matched
// on the envelope before any body is downloaded. Messages are not marked
// read.
//
// A connection, authentication or protocol failure aborts the poll and
// returns no messages. A message that cannot be parsed is logged and
// skipped.
func (g *Gateway) CheckNewMessages(
	ctx context.Context,
	allowed AllowList,
) ([]model.InboundEmail, error) {
	log := g.log.With(zap.String("mailbox", g.mailbox))

	batch, err := g.imapClient.FetchUnseen(ctx, g.mailbox, allowed.Contains,
		func(uid uint32, err error) {
			log.Warn("skipping unreadable message", zap.Uint32("uid", uid), zap.Error(err))
		},
	)
	if err != nil {
		log.Error("mailbox poll failed", zap.Error(err), zap.Bool("auth", IsAuthError(err)))
		return nil, fmt.Errorf("checking new messages: %w", err)
	}

	log.Debug("unread messages found",
		zap.Int("unread", batch.Unseen),
		zap.Int("from_registered", len(batch.Messages)),
	)

	var inbound []model.InboundEmail
	for _, raw := range batch.Messages {
		msgLog := log.With(zap.Uint32("uid", raw.UID))

		email, ok := g.filter(raw, allowed, msgLog)
		if !ok {
			continue
		}
		email.Mailbox = g.mailbox
		email.UIDValidity = batch.UIDValidity

		msgLog.Info("new message",
			zap.String("from", email.From),
			zap.String("subject", email.Subject),
		)
		inbound = append(inbound, email)
	}

	return inbound, nil
}

// filter parses raw and decides whether it belongs in the poll result.
func (g *Gateway) filter(
	raw rawMessage,
	allowed AllowList,
	log *zap.Logger,
) (model.InboundEmail, bool) {
	parsed, mr, err := parseHeader(raw.Body)
	if err != nil {
		log.Warn("skipping message with unreadable header", zap.Error(err))
		return model.InboundEmail{}, false
	}
	defer mr.Close()

	if !allowed.Contains(parsed.From) {
		log.Debug("sender not registered", zap.String("from", parsed.From))
		return model.InboundEmail{}, false
	}

	body, err := extractPlainText(mr)
	if err != nil {
		log.Info("skipping message without plain-text body",
			zap.String("from", parsed.From), zap.Error(err))
		return model.InboundEmail{}, false
	}

	return model.InboundEmail{
		UID:       raw.UID,
		MessageID: parsed.MessageID,
		From:      parsed.From,
		Subject:   parsed.Subject,
		Body:      body,
	}, true
}

// SendReply delivers msg from the bot address. Failures are logged and
// returned; nothing is retried.
func (g *Gateway) SendReply(ctx context.Context, msg OutgoingMessage) error {
	log := g.log.With(zap.String("to", msg.To))

	body, err := composeReply(g.address, msg, g.now())
	if err != nil {
		log.Error("composing reply failed", zap.Error(err))
		return fmt.Errorf("composing reply to %s: %w", msg.To, err)
	}

	if err := sendSMTP(ctx, g.smtpConfig, g.timeout, g.address, msg.To, body); err != nil {
		log.Error("sending reply failed", zap.Error(err))
		return fmt.Errorf("sending reply to %s: %w", msg.To, err)
	}

	log.Info("reply sent", zap.String("subject", msg.Subject))
	return nil
}

// MarkSeen sets the \Seen flag on the message with the given UID.
func (g *Gateway) MarkSeen(ctx context.Context, uid uint32) error {
	if err := g.imapClient.SetFlags(
		ctx, g.mailbox, uid, []imap.Flag{imap.FlagSeen}, true,
	); err != nil {
		g.log.Warn("marking message seen failed", zap.Uint32("uid", uid), zap.Error(err))
		return fmt.Errorf("marking UID %d seen: %w", uid, err)
	}
	return nil
}
