package connector

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Copy(numSet imap.NumSet, mailbox string) copyWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	UIDExpunge(uids imap.UIDSet) expungeWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}
type copyWaiter interface {
	Wait() (*imap.CopyData, error)
}
type expungeWaiter interface{ Close() error }

// IMAPFetcher drains IMAP/IMAPS mailboxes.
type IMAPFetcher struct {
	drainer
	dial func(Account) (imapClient, error)
}

// IMAPFetcherOption customizes an IMAPFetcher.
type IMAPFetcherOption func(*IMAPFetcher)

// NewIMAPFetcher returns an IMAP connector.
func NewIMAPFetcher(opts ...IMAPFetcherOption) *IMAPFetcher {
	f := &IMAPFetcher{drainer: newDrainer("imap")}
	f.dial = f.connect
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithIMAPLogger sets the connector logger.
func WithIMAPLogger(logger *log.Logger) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithIMAPDialTimeout bounds the TCP dial.
func WithIMAPDialTimeout(timeout time.Duration) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithIMAPClock stamps messages the server sent without INTERNALDATE.
func WithIMAPClock(now func() time.Time) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withIMAPClientFactory(dial func(Account) (imapClient, error)) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if dial != nil {
			f.dial = dial
		}
	}
}

func (f *IMAPFetcher) Name() string { return f.proto }

// Fetch hands every message of the selected mailbox to handler in UID order.
// Accepted messages are flagged deleted, after a copy to ArchiveFolder when
// set, and expunged together at the end.
func (f *IMAPFetcher) Fetch(ctx context.Context, account Account, handler Handler) (Summary, error) {
	var sum Summary
	if err := f.check(account, handler); err != nil {
		return sum, err
	}

	client, err := f.dial(account)
	if err != nil {
		return sum, fmt.Errorf("imap connect: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			f.logf("imap %s: close: %v", account.Name, err)
		}
	}()

	if err := client.Login(account.Username, account.Password).Wait(); err != nil {
		return sum, fmt.Errorf("imap auth: %w", err)
	}
	mailbox := account.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		return sum, fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	found, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return sum, fmt.Errorf("imap search: %w", err)
	}
	if uids := found.AllUIDs(); len(uids) > 0 {
		if err := f.drain(ctx, client, account, mailbox, uids, handler, &sum); err != nil {
			return sum, err
		}
	}

	if err := client.Logout().Wait(); err != nil {
		return sum, fmt.Errorf("imap logout: %w", err)
	}
	return sum, nil
}

func (f *IMAPFetcher) drain(ctx context.Context, client imapClient, account Account, mailbox string, uids []imap.UID, handler Handler, sum *Summary) error {
	whole := &imap.FetchItemBodySection{}
	fetched, err := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{whole},
	}).Collect()
	if err != nil {
		return fmt.Errorf("imap fetch: %w", err)
	}

	var archived []imap.UID
	for _, buf := range fetched {
		if err := ctx.Err(); err != nil {
			return err
		}
		body := buf.FindBodySection(whole)
		if body == nil {
			continue
		}
		sum.Fetched++

		uid := strconv.FormatUint(uint64(buf.UID), 10)
		msg := f.message(account, uid, buf.InternalDate, body, map[string]string{
			"imap_uid":    uid,
			"imap_folder": mailbox,
		})
		if !f.deliver(ctx, handler, msg, sum, mailbox) || !account.Archive {
			continue
		}
		if err := markArchived(client, buf.UID, account.ArchiveFolder); err != nil {
			f.archiveFailed(sum, account, uid, err)
			continue
		}
		archived = append(archived, buf.UID)
	}

	if len(archived) == 0 {
		return nil
	}
	if err := client.UIDExpunge(imap.UIDSetNum(archived...)).Close(); err != nil {
		return fmt.Errorf("imap expunge: %w", err)
	}
	sum.Archived = len(archived)
	return nil
}

// markArchived copies the message to folder when set, then flags it deleted.
func markArchived(client imapClient, uid imap.UID, folder string) error {
	set := imap.UIDSetNum(uid)
	if folder != "" {
		if _, err := client.Copy(set, folder).Wait(); err != nil {
			return fmt.Errorf("imap copy to %s: %w", folder, err)
		}
	}
	flags := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagDeleted}}
	if err := client.Store(set, flags, nil).Close(); err != nil {
		return fmt.Errorf("imap store deleted flag: %w", err)
	}
	return nil
}

func (f *IMAPFetcher) connect(account Account) (imapClient, error) {
	host, port, tls, err := f.address(account, 993, 143)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: f.dialTimeout}}
	var client *imapclient.Client
	if tls {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Copy(numSet imap.NumSet, mailbox string) copyWaiter {
	return w.Client.Copy(numSet, mailbox)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
func (w *imapClientWrapper) UIDExpunge(uids imap.UIDSet) expungeWaiter {
	return w.Client.UIDExpunge(uids)
}
