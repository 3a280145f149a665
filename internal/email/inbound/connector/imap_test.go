package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedMail struct {
	uid  imap.UID
	body string
	date time.Time
}

// imapServer is an in-memory mailbox behind the imapClient seam.
type imapServer struct {
	mails []storedMail

	failLogin  error
	failSelect error
	failCopy   map[imap.UID]error

	selected  string
	copied    map[string][]imap.UID
	flagged   []imap.UID
	expunged  [][]imap.UID
	loggedOut bool
	closed    bool
}

type result[T any] struct {
	v   T
	err error
}

func (r result[T]) Wait() (T, error) { return r.v, r.err }

type command struct{ err error }

func (c command) Wait() error { return c.err }

type collected struct {
	bufs []*imapclient.FetchMessageBuffer
	err  error
}

func (c collected) Collect() ([]*imapclient.FetchMessageBuffer, error) { return c.bufs, c.err }
func (c collected) Close() error                                       { return c.err }

type closer struct{ err error }

func (c closer) Close() error { return c.err }

func (s *imapServer) Login(_, _ string) commandWaiter { return command{s.failLogin} }
func (s *imapServer) Logout() commandWaiter {
	s.loggedOut = true
	return command{}
}
func (s *imapServer) Close() error {
	s.closed = true
	return nil
}

func (s *imapServer) Select(mailbox string, _ *imap.SelectOptions) selectWaiter {
	s.selected = mailbox
	return result[*imap.SelectData]{v: &imap.SelectData{}, err: s.failSelect}
}

func (s *imapServer) UIDSearch(*imap.SearchCriteria, *imap.SearchOptions) searchWaiter {
	var uids []imap.UID
	for _, m := range s.mails {
		uids = append(uids, m.uid)
	}
	return result[*imap.SearchData]{v: &imap.SearchData{All: imap.UIDSetNum(uids...)}}
}

func (s *imapServer) Fetch(imap.NumSet, *imap.FetchOptions) fetchWaiter {
	var out collected
	for i, m := range s.mails {
		out.bufs = append(out.bufs, &imapclient.FetchMessageBuffer{
			SeqNum:       uint32(i + 1),
			UID:          m.uid,
			InternalDate: m.date,
			BodySection: []imapclient.FetchBodySectionBuffer{
				{Section: &imap.FetchItemBodySection{}, Bytes: []byte(m.body)},
			},
		})
	}
	return out
}

func (s *imapServer) Copy(set imap.NumSet, mailbox string) copyWaiter {
	uid := set.(imap.UIDSet)[0].Start
	if err := s.failCopy[uid]; err != nil {
		return result[*imap.CopyData]{err: err}
	}
	if s.copied == nil {
		s.copied = map[string][]imap.UID{}
	}
	s.copied[mailbox] = append(s.copied[mailbox], uid)
	return result[*imap.CopyData]{v: &imap.CopyData{}}
}

func (s *imapServer) Store(set imap.NumSet, _ *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	s.flagged = append(s.flagged, set.(imap.UIDSet)[0].Start)
	return collected{}
}

func (s *imapServer) UIDExpunge(uids imap.UIDSet) expungeWaiter {
	all, _ := uids.Nums()
	s.expunged = append(s.expunged, all)
	return closer{}
}

func imapFetcher(srv *imapServer, opts ...IMAPFetcherOption) *IMAPFetcher {
	opts = append(opts, withIMAPClientFactory(func(Account) (imapClient, error) { return srv, nil }))
	return NewIMAPFetcher(opts...)
}

var inboxAccount = Account{Name: "inbox", Type: "imaps", Host: "imap.example", Username: "me", Password: "pw", Archive: true}

func TestIMAPArchivesHandledMail(t *testing.T) {
	sent := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	stamp := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	srv := &imapServer{mails: []storedMail{
		{uid: 7, body: "Subject: Read later\r\n\r\nhttps://example.org", date: sent},
		{uid: 9, body: "Subject: Call plumber !1\r\n\r\n"},
	}}
	acc := inboxAccount
	acc.Mailbox = "Notes"
	acc.ArchiveFolder = "Processed"
	h := &recordingHandler{}

	sum, err := imapFetcher(srv, WithIMAPClock(func() time.Time { return stamp })).Fetch(context.Background(), acc, h)
	require.NoError(t, err)
	assert.Equal(t, Summary{Fetched: 2, Handled: 2, Archived: 2}, sum)
	assert.Equal(t, "Notes", srv.selected)
	assert.Equal(t, map[string][]imap.UID{"Processed": {7, 9}}, srv.copied)
	assert.Equal(t, []imap.UID{7, 9}, srv.flagged)
	assert.Equal(t, [][]imap.UID{{7, 9}}, srv.expunged)
	assert.True(t, srv.loggedOut)
	assert.True(t, srv.closed)

	require.Len(t, h.messages, 2)
	assert.Equal(t, "me@imap.example:7", h.messages[0].RemoteID)
	assert.Equal(t, "imap", h.messages[0].Connector)
	assert.Equal(t, sent, h.messages[0].ReceivedAt)
	assert.Equal(t, stamp, h.messages[1].ReceivedAt)
	assert.Equal(t, "Notes", h.messages[1].Metadata["imap_folder"])
}

func TestIMAPLeavesRejectedMailInPlace(t *testing.T) {
	srv := &imapServer{mails: []storedMail{{uid: 1, body: "a"}, {uid: 2, body: "b"}, {uid: 3, body: "c"}}}
	h := &recordingHandler{failUID: "2"}

	sum, err := imapFetcher(srv).Fetch(context.Background(), inboxAccount, h)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Archived)
	assert.Equal(t, "INBOX", srv.selected)
	assert.Empty(t, srv.copied)
	assert.Equal(t, []imap.UID{1, 3}, srv.flagged)
}

func TestIMAPCopyFailureKeepsMessage(t *testing.T) {
	srv := &imapServer{
		mails:    []storedMail{{uid: 4, body: "x"}, {uid: 5, body: "y"}},
		failCopy: map[imap.UID]error{5: errors.New("TRYCREATE")},
	}
	acc := inboxAccount
	acc.ArchiveFolder = "Done"

	sum, err := imapFetcher(srv).Fetch(context.Background(), acc, &recordingHandler{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Archived)
	require.Len(t, sum.ArchiveFailures, 1)
	assert.Equal(t, "5", sum.ArchiveFailures[0].UID)
	assert.ErrorContains(t, sum.ArchiveFailures[0].Err, "imap copy to Done: TRYCREATE")
	assert.Equal(t, []imap.UID{4}, srv.flagged)
	assert.Equal(t, [][]imap.UID{{4}}, srv.expunged)
}

func TestIMAPQuietRuns(t *testing.T) {
	t.Run("empty mailbox", func(t *testing.T) {
		srv := &imapServer{}
		sum, err := imapFetcher(srv).Fetch(context.Background(), inboxAccount, &recordingHandler{})
		require.NoError(t, err)
		assert.Zero(t, sum)
		assert.Nil(t, srv.expunged)
		assert.True(t, srv.loggedOut)
	})
	t.Run("archive off", func(t *testing.T) {
		srv := &imapServer{mails: []storedMail{{uid: 3, body: "z"}}}
		acc := inboxAccount
		acc.Archive = false
		acc.ArchiveFolder = "Done"
		sum, err := imapFetcher(srv).Fetch(context.Background(), acc, &recordingHandler{})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Handled)
		assert.Empty(t, srv.flagged)
		assert.Empty(t, srv.copied)
		assert.Nil(t, srv.expunged)
	})
}

func TestIMAPSessionErrors(t *testing.T) {
	_, err := imapFetcher(&imapServer{failLogin: errors.New("denied")}).
		Fetch(context.Background(), inboxAccount, &recordingHandler{})
	assert.ErrorContains(t, err, "imap auth: denied")

	acc := inboxAccount
	acc.Mailbox = "Missing"
	_, err = imapFetcher(&imapServer{failSelect: errors.New("NONEXISTENT")}).
		Fetch(context.Background(), acc, &recordingHandler{})
	assert.ErrorContains(t, err, "imap select Missing: NONEXISTENT")

	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return nil, errors.New("timeout") }))
	_, err = f.Fetch(context.Background(), inboxAccount, &recordingHandler{})
	assert.ErrorContains(t, err, "imap connect: timeout")
}

func TestIMAPRejectsIncompleteAccounts(t *testing.T) {
	f := imapFetcher(&imapServer{})
	for _, acc := range []Account{
		{Name: "nouser", Type: "imap", Password: "pw"},
		{Name: "nopass", Type: "imap", Username: "me"},
		{Name: "wrong", Type: "pop3", Username: "me", Password: "pw"},
	} {
		_, err := f.Fetch(context.Background(), acc, &recordingHandler{})
		assert.Error(t, err, acc.Name)
	}
	_, err := f.Fetch(context.Background(), inboxAccount, nil)
	assert.ErrorContains(t, err, "imap fetcher requires a handler")
}

func TestProtocol(t *testing.T) {
	for typ, want := range map[string]struct {
		name string
		tls  bool
	}{
		"imaps":  {"imap", true},
		" IMAP ": {"imap", false},
		"POP3S":  {"pop3", true},
		"pop3":   {"pop3", false},
		"graph":  {"graph", false},
	} {
		name, tls := protocol(typ)
		assert.Equal(t, want.name, name, typ)
		assert.Equal(t, want.tls, tls, typ)
	}
}

func TestDefaultPorts(t *testing.T) {
	d := newDrainer("imap")
	_, port, tls, err := d.address(Account{Type: "imaps", Host: "mail.example"}, 993, 143)
	require.NoError(t, err)
	assert.Equal(t, 993, port)
	assert.True(t, tls)

	_, port, _, err = d.address(Account{Type: "imap", Host: "mail.example", Port: 1143}, 993, 143)
	require.NoError(t, err)
	assert.Equal(t, 1143, port)

	_, _, _, err = d.address(Account{Name: "x", Type: "imap"}, 993, 143)
	assert.ErrorContains(t, err, "missing host")
}
