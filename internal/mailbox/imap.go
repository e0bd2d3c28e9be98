package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailmate/internal/model"
)

// rawMessage is an unread message as fetched from the server.
type rawMessage struct {
	UID  uint32
	Body []byte
}

// unseenBatch is the outcome of one poll of a mailbox.
type unseenBatch struct {
	UIDValidity uint32

	// Unseen counts every unread message, including those whose sender
	// was not accepted.
	Unseen   int
	Messages []rawMessage
}

// envelopeBatchSize bounds the UIDs in one envelope FETCH so each command
// fits in the per-command deadline.
const envelopeBatchSize = 200

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	security string
	timeout  time.Duration
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(
	host string, port int, username, password, security string,
	timeout time.Duration,
) *IMAPClient {
	return &IMAPClient{
		host:     host,
		port:     strconv.Itoa(port),
		username: username,
		password: password,
		security: security,
		timeout:  timeout,
	}
}

// deadline returns the earlier of the context deadline and now+timeout.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// imapSession is a logged-in client together with its connection, so the
// I/O deadline can be renewed before each command.
type imapSession struct {
	*imapclient.Client
	conn    net.Conn
	timeout time.Duration
}

// extend gives the next command a fresh timeout, capped by ctx.
func (s *imapSession) extend(ctx context.Context) error {
	if err := s.conn.SetDeadline(deadline(ctx, s.timeout)); err != nil {
		return fmt.Errorf("setting IMAP deadline: %w", err)
	}
	return nil
}

// logout ends the session within one more timeout.
func (s *imapSession) logout(ctx context.Context) {
	if err := s.extend(ctx); err != nil {
		_ = s.Close()
		return
	}
	_ = s.Logout().Wait()
}

// Connect establishes a connection to the IMAP server and authenticates.
// Each step, and each later command issued through the session, is bounded
// by the client timeout. The caller must call logout on the session.
func (c *IMAPClient) Connect(ctx context.Context) (*imapSession, error) {
	addr := net.JoinHostPort(c.host, c.port)
	dialer := &net.Dialer{Timeout: c.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	if err := conn.SetDeadline(deadline(ctx, c.timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting IMAP deadline: %w", err)
	}

	tlsConfig := &tls.Config{ServerName: c.host}
	options := &imapclient.Options{TLSConfig: tlsConfig}

	var client *imapclient.Client
	switch c.security {
	case "tls":
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake with IMAP %s: %w", addr, err)
		}
		client = imapclient.New(tlsConn, options)
	case "starttls":
		client, err = imapclient.NewStartTLS(conn, options)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("IMAP STARTTLS with %s: %w", addr, err)
		}
	default:
		client = imapclient.New(conn, options)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Close()
		return nil, &AuthError{
			Server: addr,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return &imapSession{Client: client, conn: conn, timeout: c.timeout}, nil
}

// FetchUnseen connects, selects mailbox read-only and searches for
// messages without the \Seen flag. Envelopes are fetched first; only
// messages whose sender passes accept have their full RFC 822 content
// downloaded, one UID at a time with BODY.PEEK so nothing is marked read.
//
// Connection, login, select, search and envelope failures abort the poll.
// A body the server refuses is reported through skip and left out.
func (c *IMAPClient) FetchUnseen(
	ctx context.Context,
	mailbox string,
	accept func(from string) bool,
	skip func(uid uint32, err error),
) (*unseenBatch, error) {
	session, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.logout(ctx)

	if err := session.extend(ctx); err != nil {
		return nil, err
	}
	selected, err := session.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	if err := session.extend(ctx); err != nil {
		return nil, err
	}
	searchData, err := session.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	batch := &unseenBatch{UIDValidity: selected.UIDValidity, Unseen: len(uids)}
	if len(uids) == 0 {
		return batch, nil
	}

	var wanted []imap.UID
	for chunk := range slices.Chunk(uids, envelopeBatchSize) {
		if err := session.extend(ctx); err != nil {
			return nil, err
		}
		senders, err := fetchSenders(session.Client, chunk)
		if err != nil {
			return nil, err
		}
		for _, uid := range chunk {
			if from, ok := senders[uid]; ok && accept(from) {
				wanted = append(wanted, uid)
			}
		}
	}

	// Oldest first, matching the order replies should go out in.
	slices.Sort(wanted)

	for _, uid := range wanted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := session.extend(ctx); err != nil {
			return nil, err
		}

		body, err := fetchBody(session.Client, uid)
		if err != nil {
			var imapErr *imap.Error
			if !errors.As(err, &imapErr) {
				return nil, err
			}
			skip(uint32(uid), err)
			continue
		}
		if body == nil {
			skip(uint32(uid), fmt.Errorf("message UID %d has no body", uid))
			continue
		}

		batch.Messages = append(batch.Messages, rawMessage{UID: uint32(uid), Body: body})
	}

	return batch, nil
}

// fetchSenders returns the normalized envelope From address for each UID.
// Messages without a usable From are left out.
func fetchSenders(client *imapclient.Client, uids []imap.UID) (map[imap.UID]string, error) {
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	})
	defer fetchCmd.Close()

	senders := make(map[imap.UID]string, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("collecting envelope: %w", err)
		}
		if buf.Envelope == nil || len(buf.Envelope.From) == 0 {
			continue
		}
		if from := model.NormalizeEmail(buf.Envelope.From[0].Addr()); from != "" {
			senders[buf.UID] = from
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching envelopes: %w", err)
	}
	return senders, nil
}

// fetchBody downloads the full content of one message without setting
// \Seen. A nil body with a nil error means the server sent no content.
func fetchBody(client *imapclient.Client, uid imap.UID) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var body []byte
	if msg := fetchCmd.Next(); msg != nil {
		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("collecting UID %d: %w", uid, err)
		}
		body = buf.FindBodySection(bodySection)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching UID %d: %w", uid, err)
	}
	return body, nil
}

// SetFlags connects to IMAP and modifies flags on a message.
// If add is true, the flags are added; otherwise they are removed.
func (c *IMAPClient) SetFlags(
	ctx context.Context,
	mailbox string,
	uid uint32,
	flags []imap.Flag,
	add bool,
) error {
	session, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer session.logout(ctx)

	if err := session.extend(ctx); err != nil {
		return err
	}
	if _, err := session.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))

	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}

	if err := session.extend(ctx); err != nil {
		return err
	}
	storeCmd := session.Store(uidSet, &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  flags,
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("storing flags on UID %d: %w", uid, err)
	}
	return nil
}
