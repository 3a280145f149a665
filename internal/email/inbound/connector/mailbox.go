package connector

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// protocol describes an account type: imaps -> ("imap", true).
func protocol(accountType string) (name string, tls bool) {
	switch t := strings.ToLower(strings.TrimSpace(accountType)); t {
	case "imaps", "pop3s":
		return strings.TrimSuffix(t, "s"), true
	default:
		return t, false
	}
}

// drainer carries the state both mailbox protocols share.
type drainer struct {
	proto       string
	dialTimeout time.Duration
	now         func() time.Time
	logger      *log.Logger
}

func newDrainer(proto string) drainer {
	return drainer{
		proto:       proto,
		dialTimeout: 10 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Default(),
	}
}

// check rejects a run before any connection is made.
func (d *drainer) check(account Account, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%s fetcher requires a handler", d.proto)
	}
	var missing []string
	if account.Username == "" {
		missing = append(missing, "username")
	}
	if account.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s account %q missing %s", d.proto, account.Name, strings.Join(missing, " and "))
	}
	if name, _ := protocol(account.Type); name != d.proto {
		return fmt.Errorf("account type %q not supported by the %s connector", account.Type, d.proto)
	}
	return nil
}

// address returns host and port, defaulting the port by TLS mode.
func (d *drainer) address(account Account, tlsPort, plainPort int) (string, int, bool, error) {
	if account.Host == "" {
		return "", 0, false, fmt.Errorf("%s account %q missing host", d.proto, account.Name)
	}
	_, tls := protocol(account.Type)
	port := account.Port
	switch {
	case port != 0:
	case tls:
		port = tlsPort
	default:
		port = plainPort
	}
	return account.Host, port, tls, nil
}

// deliver hands msg to handler and books the outcome. It reports whether the
// message may be archived.
func (d *drainer) deliver(ctx context.Context, handler Handler, msg *FetchedMessage, sum *Summary, where string) bool {
	if err := handler.Handle(ctx, msg); err != nil {
		sum.Failed++
		d.logf("%s %s: message %s left in %s: %v", d.proto, msg.Account, msg.UID, where, err)
		return false
	}
	sum.Handled++
	return true
}

func (d *drainer) archiveFailed(sum *Summary, account Account, uid string, err error) {
	sum.ArchiveFailures = append(sum.ArchiveFailures, ArchiveFailure{UID: uid, Err: err})
	d.logf("%s %s: archive %s failed: %v", d.proto, account.Name, uid, err)
}

func (d *drainer) message(account Account, uid string, received time.Time, raw []byte, meta map[string]string) *FetchedMessage {
	if received.IsZero() {
		received = d.now()
	}
	remote := account.Host + ":" + uid
	if account.Username != "" {
		remote = account.Username + "@" + remote
	}
	return &FetchedMessage{
		Account:    account.Name,
		Connector:  d.proto,
		UID:        uid,
		RemoteID:   remote,
		ReceivedAt: received,
		Raw:        append([]byte(nil), raw...),
		Metadata:   meta,
	}
}

func (d *drainer) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
