// Package pipeline runs the poll, generate and reply cycle and schedules
// it in the background.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/ai"
	"github.com/nhle/mailmate/internal/mailbox"
	"github.com/nhle/mailmate/internal/model"
	"github.com/nhle/mailmate/internal/store"
)

// DefaultSubject is used for replies to messages without a subject.
const DefaultSubject = "Your Support Partner"

// defaultContextMessages bounds the history passed to the generator.
const defaultContextMessages = 10

// Mailbox is the mail access needed by a cycle.
type Mailbox interface {
	CheckNewMessages(ctx context.Context, allowed mailbox.AllowList) ([]model.InboundEmail, error)
	SendReply(ctx context.Context, msg mailbox.OutgoingMessage) error
	MarkSeen(ctx context.Context, uid uint32) error
}

// Generator produces replies. It must always return usable text.
type Generator interface {
	GenerateReply(ctx context.Context, req ai.ReplyRequest) ai.Reply
}

// Options tune an Orchestrator.
type Options struct {
	// ContextMessages is how many prior messages are sent to the generator.
	ContextMessages int

	// MarkSeen flags each message \Seen after its reply is sent.
	MarkSeen bool
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Users        int       `json:"registered_users"`
	Received     int       `json:"received"`
	Processed    int       `json:"processed"`
	Skipped      int       `json:"skipped"`
	RepliesSent  int       `json:"replies_sent"`
	SendFailures int       `json:"send_failures"`
	Fallbacks    int       `json:"fallbacks"`

	// Error is set when the cycle ended early because users could not be
	// listed or the mailbox could not be polled.
	Error string `json:"error,omitempty"`
}

// Orchestrator ties the store, mailbox and generator together. It keeps no
// state between cycles.
type Orchestrator struct {
	store     store.Store
	mailbox   Mailbox
	generator Generator
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	s store.Store,
	mb Mailbox,
	gen Generator,
	opts Options,
	log *zap.Logger,
) *Orchestrator {
	if opts.ContextMessages <= 0 {
		opts.ContextMessages = defaultContextMessages
	}

	return &Orchestrator{
		store:     s,
		mailbox:   mb,
		generator: gen,
		opts:      opts,
		log:       log.With(zap.String("component", "pipeline")),
		now:       time.Now,
	}
}

// RunCycle lists registered users, polls the mailbox for their unread mail
// and answers each message in turn. A failure on one message never stops
// the others.
func (o *Orchestrator) RunCycle(ctx context.Context) (report CycleReport) {
	report.StartedAt = o.now()
	defer func() { report.FinishedAt = o.now() }()

	o.log.Info("cycle started")

	emails, err := o.store.ListUserEmails(ctx)
	if err != nil {
		o.log.Error("listing registered users failed", zap.Error(err))
		report.Error = err.Error()
		return report
	}
	report.Users = len(emails)

	if len(emails) == 0 {
		o.log.Info("no registered users")
		return report
	}

	inbound, err := o.mailbox.CheckNewMessages(ctx, mailbox.NewAllowList(emails...))
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Received = len(inbound)

	if len(inbound) == 0 {
		o.log.Info("no new messages from registered users", zap.Int("users", len(emails)))
		return report
	}

	for _, email := range inbound {
		o.process(ctx, email, &report)
	}

	o.log.Info("cycle completed",
		zap.Int("received", report.Received),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("replies_sent", report.RepliesSent),
		zap.Int("send_failures", report.SendFailures),
		zap.Int("fallbacks", report.Fallbacks),
	)

	return report
}

// process answers a single inbound message.
func (o *Orchestrator) process(ctx context.Context, email model.InboundEmail, report *CycleReport) {
	key := email.Key()
	log := o.log.With(
		zap.String("from", email.From),
		zap.String("message_key", key),
	)

	done, err := o.store.IsProcessed(ctx, key)
	if err != nil {
		log.Warn("checking processed state failed", zap.Error(err))
	}
	if done {
		log.Debug("message already handled")
		o.markSeen(ctx, email, log)
		report.Skipped++
		return
	}

	user, err := o.store.GetUser(ctx, email.From)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("sender has no profile")
		} else {
			log.Error("loading profile failed", zap.Error(err))
		}
		report.Skipped++
		return
	}

	first, err := o.store.MarkProcessed(ctx, key, user.Email)
	if err != nil {
		log.Warn("recording message as handled failed", zap.Error(err))
	} else if !first {
		log.Debug("message claimed by a concurrent cycle")
		report.Skipped++
		return
	}

	stored := true
	if err := o.store.AppendMessage(ctx, user.Email, model.RoleUser, email.Body); err != nil {
		log.Error("storing inbound message failed", zap.Error(err))
		stored = false
	}

	history := o.history(ctx, user.Email, stored, log)

	reply := o.generator.GenerateReply(ctx, ai.ReplyRequest{
		UserName: user.Name,
		Context:  user.Context,
		History:  history,
		Message:  email.Body,
	})
	if reply.Fallback {
		report.Fallbacks++
	}

	if err := o.store.AppendMessage(ctx, user.Email, model.RoleBot, reply.Text); err != nil {
		log.Error("storing reply failed", zap.Error(err))
	}

	report.Processed++

	err = o.mailbox.SendReply(ctx, mailbox.OutgoingMessage{
		To:        user.Email,
		Subject:   ReplySubject(email.Subject),
		Body:      reply.Text,
		InReplyTo: email.MessageID,
	})
	if err != nil {
		report.SendFailures++
		return
	}
	report.RepliesSent++

	o.markSeen(ctx, email, log)
}

// history loads the recent conversation for the generator. When the
// inbound message was stored it is the newest entry and is dropped, since
// it is passed separately as the final turn.
func (o *Orchestrator) history(
	ctx context.Context,
	email string,
	includesCurrent bool,
	log *zap.Logger,
) []model.ContextMessage {
	limit := o.opts.ContextMessages
	if includesCurrent {
		limit++
	}

	history, err := o.store.GetRecentForContext(ctx, email, limit)
	if err != nil {
		log.Warn("loading conversation history failed", zap.Error(err))
		return nil
	}

	if includesCurrent && len(history) > 0 {
		history = history[:len(history)-1]
	}
	return history
}

func (o *Orchestrator) markSeen(ctx context.Context, email model.InboundEmail, log *zap.Logger) {
	if !o.opts.MarkSeen || email.UID == 0 {
		return
	}
	if err := o.mailbox.MarkSeen(ctx, email.UID); err != nil {
		log.Warn("message left unread", zap.Error(err))
	}
}

// ReplySubject derives the reply subject from the original one.
func ReplySubject(subject string) string {
	if subject == "" {
		return DefaultSubject
	}
	return fmt.Sprintf("Re: %s", subject)
}
