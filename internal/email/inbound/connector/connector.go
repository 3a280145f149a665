// Package connector drains remote mailboxes and hands each raw message to a
// handler, archiving the ones the handler accepted.
package connector

import (
	"context"
	"time"
)

// Account carries what a connector needs to open and archive a mailbox.
type Account struct {
	Name     string
	Type     string // pop3, pop3s, imap, imaps
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	// Archive removes handled messages from the mailbox. IMAP copies them to
	// ArchiveFolder first when one is set; POP3 simply deletes them.
	Archive       bool
	ArchiveFolder string
}

// FetchedMessage wraps the on-wire RFC822 payload plus derived metadata.
type FetchedMessage struct {
	Account    string
	Connector  string
	UID        string
	RemoteID   string
	ReceivedAt time.Time
	Raw        []byte
	Metadata   map[string]string
}

// Handler receives fully fetched messages. A non-nil error leaves the message
// in the mailbox so the next run retries it.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *FetchedMessage) error

// Handle calls fn.
func (fn HandlerFunc) Handle(ctx context.Context, msg *FetchedMessage) error {
	return fn(ctx, msg)
}

// ArchiveFailure records a handled message that could not be archived.
type ArchiveFailure struct {
	UID string
	Err error
}

// Summary describes one mailbox drain.
type Summary struct {
	Fetched         int
	Handled         int
	Failed          int
	Archived        int
	ArchiveFailures []ArchiveFailure
}

// Fetcher implementations (POP3, IMAP) stream messages to a handler. Handler
// failures are isolated per message; only session-level failures are returned.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, handler Handler) (Summary, error)
}

// Factory resolves the correct connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account Account) (Fetcher, error)
}
