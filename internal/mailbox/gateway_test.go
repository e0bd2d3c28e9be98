package mailbox

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/model"
)

const (
	testUser     = "bot@example.com"
	testPassword = "secret"
)

// startIMAP runs an in-memory IMAP server with a single user and an empty
// INBOX. It returns the listening port.
func startIMAP(t *testing.T) int {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	require.NoError(t, user.Create("INBOX", nil))
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return ln.Addr().(*net.TCPAddr).Port
}

// appendMessages delivers raw messages to INBOX in order.
func appendMessages(t *testing.T, port int, messages ...[]byte) {
	t.Helper()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	client := imapclient.New(conn, nil)
	defer client.Close()

	require.NoError(t, client.Login(testUser, testPassword).Wait())
	for _, msg := range messages {
		cmd := client.Append("INBOX", int64(len(msg)), nil)
		_, err := cmd.Write(msg)
		require.NoError(t, err)
		require.NoError(t, cmd.Close())
		_, err = cmd.Wait()
		require.NoError(t, err)
	}
	require.NoError(t, client.Logout().Wait())
}

func newTestGateway(port int, password string) *Gateway {
	return NewGateway(model.MailConfig{
		Address:      testUser,
		Password:     password,
		IMAPHost:     "127.0.0.1",
		IMAPPort:     port,
		IMAPSecurity: "none",
		Mailbox:      "INBOX",
		Timeout:      5 * time.Second,
	}, zap.NewNop())
}

func TestGateway_CheckNewMessagesFiltersSenders(t *testing.T) {
	port := startIMAP(t)
	appendMessages(t, port,
		crlf(`
From: b@x.com
Subject: not registered
Content-Type: text/plain

from b
`),
		crlf(`
From: A@X.com
Subject: upper case
Message-ID: <first@x.com>
Content-Type: text/plain

first
`),
		crlf(`
From: Alice <a@x.com>
Subject: display name
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary=b1

--b1
Content-Type: text/plain; charset=utf-8

second
--b1
Content-Type: text/html; charset=utf-8

<p>second</p>
--b1--
`),
		crlf(`
From: a@x.com
Subject: html only
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary=b1

--b1
Content-Type: text/html; charset=utf-8

<p>html</p>
--b1--
`),
	)

	g := newTestGateway(port, testPassword)
	allowed := NewAllowList("a@x.com")

	got, err := g.CheckNewMessages(context.Background(), allowed)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "a@x.com", got[0].From)
	assert.Equal(t, "upper case", got[0].Subject)
	assert.Equal(t, "first", got[0].Body)
	assert.Equal(t, "first@x.com", got[0].MessageID)
	assert.Equal(t, "INBOX", got[0].Mailbox)
	assert.NotZero(t, got[0].UIDValidity)

	assert.Equal(t, "a@x.com", got[1].From)
	assert.Equal(t, "second", got[1].Body)
	assert.Less(t, got[0].UID, got[1].UID)

	// Polling does not mark anything read.
	again, err := g.CheckNewMessages(context.Background(), allowed)
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestIMAPClient_FetchUnseenDownloadsAcceptedSendersOnly(t *testing.T) {
	port := startIMAP(t)
	appendMessages(t, port,
		crlf(`
From: stranger@x.com
Subject: spam

buy now
`),
		crlf(`
From: Ann <a@x.com>
Subject: hello

hi
`),
		crlf(`
From: other@x.com
Subject: more spam

again
`),
	)

	g := newTestGateway(port, testPassword)

	var asked []string
	accept := func(from string) bool {
		asked = append(asked, from)
		return from == "a@x.com"
	}
	var skipped []uint32
	skip := func(uid uint32, _ error) { skipped = append(skipped, uid) }

	batch, err := g.imapClient.FetchUnseen(context.Background(), "INBOX", accept, skip)
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Unseen)
	assert.NotZero(t, batch.UIDValidity)
	assert.ElementsMatch(t, []string{"stranger@x.com", "a@x.com", "other@x.com"}, asked)
	assert.Empty(t, skipped)

	require.Len(t, batch.Messages, 1)
	assert.Contains(t, string(batch.Messages[0].Body), "Subject: hello")
}

func TestIMAPClient_FetchUnseenNothingAccepted(t *testing.T) {
	port := startIMAP(t)
	appendMessages(t, port, crlf(`
From: stranger@x.com
Subject: spam

buy now
`))

	g := newTestGateway(port, testPassword)

	batch, err := g.imapClient.FetchUnseen(context.Background(), "INBOX",
		func(string) bool { return false },
		func(uint32, error) { t.Fatal("nothing should be skipped") },
	)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Unseen)
	assert.Empty(t, batch.Messages)
}

func TestFetchBody_MissingUIDIsNotFatal(t *testing.T) {
	port := startIMAP(t)
	appendMessages(t, port, crlf(`
From: a@x.com
Subject: hello

hi
`))

	ctx := context.Background()
	session, err := newTestGateway(port, testPassword).imapClient.Connect(ctx)
	require.NoError(t, err)
	defer session.logout(ctx)

	require.NoError(t, session.extend(ctx))
	_, err = session.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait()
	require.NoError(t, err)

	body, err := fetchBody(session.Client, 999)
	require.NoError(t, err)
	assert.Nil(t, body)

	// The session is still usable for the next message.
	body, err = fetchBody(session.Client, 1)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Subject: hello")
}

func TestGateway_MarkSeenHidesMessage(t *testing.T) {
	port := startIMAP(t)
	appendMessages(t, port, crlf(`
From: a@x.com
Subject: hello
Content-Type: text/plain

hi
`))

	g := newTestGateway(port, testPassword)
	allowed := NewAllowList("a@x.com")

	got, err := g.CheckNewMessages(context.Background(), allowed)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, g.MarkSeen(context.Background(), got[0].UID))

	got, err = g.CheckNewMessages(context.Background(), allowed)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGateway_CheckNewMessagesEmptyInbox(t *testing.T) {
	port := startIMAP(t)
	g := newTestGateway(port, testPassword)

	got, err := g.CheckNewMessages(context.Background(), NewAllowList("a@x.com"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGateway_CheckNewMessagesAuthFailure(t *testing.T) {
	port := startIMAP(t)
	g := newTestGateway(port, "wrong")

	got, err := g.CheckNewMessages(context.Background(), NewAllowList("a@x.com"))
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Nil(t, got)
}
