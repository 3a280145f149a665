package connector

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/knadh/go-pop3"
)

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
}

// POP3Fetcher drains POP3/POP3S maildrops. POP3 has no folders, so archiving
// a message deletes it.
type POP3Fetcher struct {
	drainer
	dial func(Account) (pop3Connection, error)
}

// POP3FetcherOption customizes a POP3Fetcher.
type POP3FetcherOption func(*POP3Fetcher)

// NewPOP3Fetcher returns a POP3 connector.
func NewPOP3Fetcher(opts ...POP3FetcherOption) *POP3Fetcher {
	f := &POP3Fetcher{drainer: newDrainer("pop3")}
	f.dial = f.connect
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithPOP3Logger sets the connector logger.
func WithPOP3Logger(logger *log.Logger) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPOP3DialTimeout bounds the TCP dial.
func WithPOP3DialTimeout(timeout time.Duration) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithPOP3Clock stamps ReceivedAt; POP3 carries no arrival time.
func WithPOP3Clock(now func() time.Time) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withPOP3ConnFactory(dial func(Account) (pop3Connection, error)) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if dial != nil {
			f.dial = dial
		}
	}
}

func (f *POP3Fetcher) Name() string { return f.proto }

// Fetch hands every message in the maildrop to handler. Accepted messages are
// deleted when the account archives.
func (f *POP3Fetcher) Fetch(ctx context.Context, account Account, handler Handler) (Summary, error) {
	var sum Summary
	if err := f.check(account, handler); err != nil {
		return sum, err
	}

	conn, err := f.dial(account)
	if err != nil {
		return sum, fmt.Errorf("pop3 connect: %w", err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			f.logf("pop3 %s: quit: %v", account.Name, err)
		}
	}()

	if err := conn.Auth(account.Username, account.Password); err != nil {
		return sum, fmt.Errorf("pop3 auth: %w", err)
	}
	listing, err := conn.Uidl(0)
	if err != nil {
		return sum, fmt.Errorf("pop3 uidl: %w", err)
	}

	for _, entry := range listing {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		uid := entry.UID
		if uid == "" {
			uid = strconv.Itoa(entry.ID)
		}

		raw, err := conn.RetrRaw(entry.ID)
		if err != nil {
			sum.Failed++
			f.logf("pop3 %s: retr %s: %v", account.Name, uid, err)
			continue
		}
		sum.Fetched++

		meta := map[string]string{"uidl": uid, "pop3_id": strconv.Itoa(entry.ID)}
		if entry.Size > 0 {
			meta["reported_size"] = strconv.Itoa(entry.Size)
		}
		msg := f.message(account, uid, time.Time{}, raw.Bytes(), meta)
		if !f.deliver(ctx, handler, msg, &sum, "maildrop") || !account.Archive {
			continue
		}
		if err := conn.Dele(entry.ID); err != nil {
			f.archiveFailed(&sum, account, uid, fmt.Errorf("pop3 delete %d: %w", entry.ID, err))
			continue
		}
		sum.Archived++
	}
	return sum, nil
}

func (f *POP3Fetcher) connect(account Account) (pop3Connection, error) {
	host, port, tls, err := f.address(account, 995, 110)
	if err != nil {
		return nil, err
	}
	client := pop3.New(pop3.Opt{
		Host:        host,
		Port:        port,
		DialTimeout: f.dialTimeout,
		TLSEnabled:  tls,
	})
	return client.NewConn()
}
