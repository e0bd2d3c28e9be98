package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/ai"
	"github.com/nhle/mailmate/internal/mailbox"
	"github.com/nhle/mailmate/internal/model"
	"github.com/nhle/mailmate/internal/pipeline"
	"github.com/nhle/mailmate/internal/store"
	"github.com/nhle/mailmate/tests/testutil"
)

// fakeMailbox returns a fixed inbox on every poll and records replies.
type fakeMailbox struct {
	mu       sync.Mutex
	inbox    []model.InboundEmail
	pollErr  error
	failTo   map[string]bool
	polls    int
	allowed  mailbox.AllowList
	sent     []mailbox.OutgoingMessage
	attempts int
	seen     []uint32
}

func (f *fakeMailbox) CheckNewMessages(
	_ context.Context,
	allowed mailbox.AllowList,
) ([]model.InboundEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls++
	f.allowed = allowed
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return append([]model.InboundEmail(nil), f.inbox...), nil
}

func (f *fakeMailbox) SendReply(_ context.Context, msg mailbox.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.failTo[msg.To] {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailbox) MarkSeen(_ context.Context, uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seen = append(f.seen, uid)
	return nil
}

// fakeGenerator echoes the message, or falls back for configured inputs.
type fakeGenerator struct {
	mu       sync.Mutex
	failOn   map[string]bool
	requests []ai.ReplyRequest
}

func (g *fakeGenerator) GenerateReply(_ context.Context, req ai.ReplyRequest) ai.Reply {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	if g.failOn[req.Message] {
		return ai.Reply{
			Text:     ai.FallbackText(req.UserName),
			Fallback: true,
			Err:      errors.New("completion service down"),
		}
	}
	return ai.Reply{Text: "Hugs, " + req.UserName}
}

func register(t *testing.T, s store.Store, email, name string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), model.Registration{
		Email:       email,
		Name:        name,
		Occupation:  "nurse",
		Interests:   "poetry",
		Hobbies:     "running",
		Personality: "calm",
	}))
}

func newOrchestrator(
	s store.Store,
	mb *fakeMailbox,
	gen *fakeGenerator,
	markSeen bool,
) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(s, mb, gen, pipeline.Options{
		ContextMessages: 10,
		MarkSeen:        markSeen,
	}, zap.NewNop())
}

func TestRunCycle_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	register(t, s, "jane@example.com", "Jane")

	mb := &fakeMailbox{inbox: []model.InboundEmail{{
		UID:       7,
		MessageID: "m1@example.com",
		From:      "jane@example.com",
		Subject:   "Hi",
		Body:      "I had a rough day",
	}}}
	gen := &fakeGenerator{}

	report := newOrchestrator(s, mb, gen, true).RunCycle(ctx)

	assert.Empty(t, report.Error)
	assert.False(t, report.StartedAt.IsZero())
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.Equal(t, 1, report.Users)
	assert.Equal(t, 1, report.Received)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.RepliesSent)
	assert.Zero(t, report.Fallbacks)

	assert.True(t, mb.allowed.Contains("jane@example.com"))

	history, err := s.GetHistory(ctx, "jane@example.com", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "I had a rough day", history[0].Content)
	assert.Equal(t, model.RoleBot, history[1].Role)
	assert.Equal(t, "Hugs, Jane", history[1].Content)

	require.Len(t, mb.sent, 1)
	assert.Equal(t, "jane@example.com", mb.sent[0].To)
	assert.Equal(t, "Re: Hi", mb.sent[0].Subject)
	assert.Equal(t, "Hugs, Jane", mb.sent[0].Body)
	assert.Equal(t, "m1@example.com", mb.sent[0].InReplyTo)
	assert.Equal(t, []uint32{7}, mb.seen)

	require.Len(t, gen.requests, 1)
	assert.Equal(t, "Jane", gen.requests[0].UserName)
	assert.Equal(t, "nurse", gen.requests[0].Context.Occupation)
	assert.Empty(t, gen.requests[0].History)
	assert.Equal(t, "I had a rough day", gen.requests[0].Message)
}

func TestRunCycle_HandlesMessageOnce(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	register(t, s, "jane@example.com", "Jane")

	mb := &fakeMailbox{inbox: []model.InboundEmail{{
		UID: 3, MessageID: "m1@example.com", From: "jane@example.com",
		Subject: "Hi", Body: "hello",
	}}}
	o := newOrchestrator(s, mb, &fakeGenerator{}, false)

	first := o.RunCycle(ctx)
	second := o.RunCycle(ctx)

	assert.Equal(t, 1, first.RepliesSent)
	assert.Equal(t, 1, second.Received)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Processed)
	assert.Len(t, mb.sent, 1)
	assert.Empty(t, mb.seen)

	history, err := s.GetHistory(ctx, "jane@example.com", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRunCycle_RetriesMarkSeenForHandledMessage(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	register(t, s, "jane@example.com", "Jane")

	email := model.InboundEmail{
		UID: 9, MessageID: "m1@example.com", From: "jane@example.com", Body: "hello",
	}
	_, err := s.MarkProcessed(ctx, email.Key(), "jane@example.com")
	require.NoError(t, err)

	mb := &fakeMailbox{inbox: []model.InboundEmail{email}}

	report := newOrchestrator(s, mb, &fakeGenerator{}, true).RunCycle(ctx)

	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, mb.sent)
	assert.Equal(t, []uint32{9}, mb.seen)
}

func TestRunCycle_FailuresDoNotStopLaterMessages(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	register(t, s, "jane@example.com", "Jane")
	register(t, s, "sam@example.com", "Sam")

	mb := &fakeMailbox{
		inbox: []model.InboundEmail{
			{UID: 1, MessageID: "a@x", From: "jane@example.com", Subject: "one", Body: "first"},
			{UID: 2, MessageID: "b@x", From: "sam@example.com", Subject: "two", Body: "second"},
		},
		failTo: map[string]bool{"jane@example.com": true},
	}
	gen := &fakeGenerator{failOn: map[string]bool{"first": true}}

	report := newOrchestrator(s, mb, gen, true).RunCycle(ctx)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Fallbacks)
	assert.Equal(t, 1, report.SendFailures)
	assert.Equal(t, 1, report.RepliesSent)
	assert.Equal(t, 2, mb.attempts)

	jane, err := s.GetHistory(ctx, "jane@example.com", 0)
	require.NoError(t, err)
	require.Len(t, jane, 2)
	assert.Equal(t, ai.FallbackText("Jane"), jane[1].Content)

	sam, err := s.GetHistory(ctx, "sam@example.com", 0)
	require.NoError(t, err)
	require.Len(t, sam, 2)
	assert.Equal(t, "Hugs, Sam", sam[1].Content)

	// Only the delivered reply is flagged read.
	assert.Equal(t, []uint32{2}, mb.seen)
}

func TestRunCycle_SkipsSenderWithoutProfile(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	register(t, s, "jane@example.com", "Jane")

	mb := &fakeMailbox{inbox: []model.InboundEmail{
		{UID: 1, From: "ghost@example.com", Subject: "boo", Body: "hello"},
		{UID: 2, From: "jane@example.com", Body: "hi there"},
	}}

	report := newOrchestrator(s, mb, &fakeGenerator{}, false).RunCycle(ctx)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, mb.sent, 1)
	assert.Equal(t, "jane@example.com", mb.sent[0].To)
	assert.Equal(t, pipeline.DefaultSubject, mb.sent[0].Subject)

	ghost, err := s.GetHistory(ctx, "ghost@example.com", 0)
	require.NoError(t, err)
	assert.Empty(t, ghost)
}

func TestRunCycle_NoUsersSkipsPoll(t *testing.T) {
	mb := &fakeMailbox{}

	report := newOrchestrator(testutil.NewTestStore(t), mb, &fakeGenerator{}, false).
		RunCycle(context.Background())

	assert.Zero(t, report.Users)
	assert.Zero(t, mb.polls)
	assert.False(t, report.FinishedAt.IsZero())
}

func TestRunCycle_PollFailureEndsCycle(t *testing.T) {
	s := testutil.NewTestStore(t)
	register(t, s, "jane@example.com", "Jane")
	mb := &fakeMailbox{pollErr: errors.New("connection refused")}

	report := newOrchestrator(s, mb, &fakeGenerator{}, false).RunCycle(context.Background())

	assert.Equal(t, "connection refused", report.Error)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.Zero(t, report.Received)
	assert.Empty(t, mb.sent)
}

func TestRunCycle_SameMessageIDFromAnotherSender(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	register(t, s, "a@x.com", "Ann")
	register(t, s, "b@x.com", "Ben")
	gen := &fakeGenerator{}

	first := &fakeMailbox{inbox: []model.InboundEmail{
		{UID: 1, MessageID: "dup@x.com", From: "a@x.com", Body: "from ann"},
	}}
	newOrchestrator(s, first, gen, false).RunCycle(ctx)

	second := &fakeMailbox{inbox: []model.InboundEmail{
		{UID: 2, MessageID: "dup@x.com", From: "b@x.com", Body: "from ben"},
	}}
	report := newOrchestrator(s, second, gen, false).RunCycle(ctx)

	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Skipped)
	require.Len(t, second.sent, 1)
	assert.Equal(t, "b@x.com", second.sent[0].To)

	ben, err := s.GetHistory(ctx, "b@x.com", 0)
	require.NoError(t, err)
	assert.Len(t, ben, 2)
}

func TestRunCycle_ReusedUIDAfterUIDValidityChange(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	register(t, s, "jane@example.com", "Jane")
	gen := &fakeGenerator{}

	before := &fakeMailbox{inbox: []model.InboundEmail{
		{Mailbox: "INBOX", UIDValidity: 1, UID: 5, From: "jane@example.com", Body: "old"},
	}}
	newOrchestrator(s, before, gen, false).RunCycle(ctx)

	after := &fakeMailbox{inbox: []model.InboundEmail{
		{Mailbox: "INBOX", UIDValidity: 2, UID: 5, From: "jane@example.com", Body: "new"},
	}}
	report := newOrchestrator(s, after, gen, false).RunCycle(ctx)

	assert.Equal(t, 1, report.Processed)
	require.Len(t, after.sent, 1)
	require.Len(t, gen.requests, 2)
	assert.Equal(t, "new", gen.requests[1].Message)

	// The same UID in the same folder state is still recognised.
	again := newOrchestrator(s, after, gen, false).RunCycle(ctx)
	assert.Equal(t, 1, again.Skipped)
	assert.Len(t, gen.requests, 2)
}

func TestRunCycle_HistoryExcludesCurrentMessage(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	register(t, s, "jane@example.com", "Jane")

	require.NoError(t, s.AppendMessage(ctx, "jane@example.com", model.RoleUser, "earlier"))
	require.NoError(t, s.AppendMessage(ctx, "jane@example.com", model.RoleBot, "earlier reply"))

	mb := &fakeMailbox{inbox: []model.InboundEmail{
		{UID: 5, MessageID: "new@x", From: "jane@example.com", Subject: "Hi", Body: "today"},
	}}
	gen := &fakeGenerator{}

	newOrchestrator(s, mb, gen, false).RunCycle(ctx)

	require.Len(t, gen.requests, 1)
	assert.Equal(t, []model.ContextMessage{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "earlier reply"},
	}, gen.requests[0].History)
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Hi", pipeline.ReplySubject("Hi"))
	assert.Equal(t, "Your Support Partner", pipeline.ReplySubject(""))
}
