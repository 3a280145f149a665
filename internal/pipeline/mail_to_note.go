package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/pkmhub/pkmhub/internal/email/inbound/connector"
	"github.com/pkmhub/pkmhub/internal/email/message"
	"github.com/pkmhub/pkmhub/internal/notes"
	"github.com/pkmhub/pkmhub/internal/routing"
)

// MailToNote turns every message of the configured mailboxes into a note.
// Subjects carry routing tokens: "Title #tag @Notebook".
type MailToNote struct {
	Accounts  []connector.Account
	Fetchers  connector.Factory
	Parser    *routing.Parser
	Assembler *Assembler
	// Sender and ForwardTo copy each imported message to a secondary
	// address; both are optional.
	Sender    MailSender
	ForwardTo []string
	Logger    *log.Logger
}

func (j *MailToNote) Name() string { return JobMailToNote }

// Run drains each account; a failing account does not stop the others.
func (j *MailToNote) Run(ctx context.Context) (*Report, error) {
	report := newReport(j.Name())
	for _, acc := range j.Accounts {
		logf(j.Logger, "handling account %s", acc.Name)
		drainMailbox(ctx, j.Fetchers, acc, report, j.Logger, j.handle)
	}
	return report, nil
}

func (j *MailToNote) handle(ctx context.Context, raw []byte) (string, string, error) {
	msg, err := message.Parse(raw)
	if err != nil {
		return "[unparseable message]", "", fmt.Errorf("parse message: %w", err)
	}
	subject := routing.Subject(msg.Subject)
	decision := j.Parser.ParseSubject(subject)
	if decision.FallbackTitle {
		logf(j.Logger, "no title found in %q, using %q", subject, decision.Title)
	}

	dest := j.Assembler.Destination()
	containerID, err := dest.ResolveContainer(ctx, decision.Container)
	if err != nil {
		return subject, "", err
	}
	body, isHTML, err := j.Assembler.MessageBody(msg)
	if err != nil {
		return subject, "", err
	}

	logf(j.Logger, "creating note %q", decision.Title)
	note, err := dest.CreateNote(ctx, notes.Draft{
		Title:       decision.Title,
		Body:        body,
		HTML:        isHTML,
		ContainerID: containerID,
	})
	if err != nil {
		return subject, "", err
	}
	if err := dest.TagNote(ctx, note, decision.Tags); err != nil {
		return subject, "", err
	}
	if err := j.Assembler.AddMessageParts(ctx, note, msg); err != nil {
		return subject, "", err
	}

	if j.Sender != nil && len(j.ForwardTo) > 0 {
		if err := j.Sender.SendRaw(j.ForwardTo, raw); err != nil {
			return subject, "", fmt.Errorf("forward copy: %w", err)
		}
	}
	return subject, "created", nil
}

// MailForward relays every message of a mailbox, unmodified, to an address.
type MailForward struct {
	Rules    []ForwardRule
	Fetchers connector.Factory
	Sender   MailSender
	Logger   *log.Logger
}

// ForwardRule sends the messages of Account (its Mailbox) to To.
type ForwardRule struct {
	Account connector.Account
	To      []string
}

func (j *MailForward) Name() string { return JobMailForward }

// Run drains each rule's mailbox into the rule's address.
func (j *MailForward) Run(ctx context.Context) (*Report, error) {
	report := newReport(j.Name())
	for _, rule := range j.Rules {
		logf(j.Logger, "handling %s mailbox", rule.Account.Mailbox)
		drainMailbox(ctx, j.Fetchers, rule.Account, report, j.Logger, func(_ context.Context, raw []byte) (string, string, error) {
			subject := "[Subject Unknown]"
			if msg, err := message.Parse(raw); err == nil {
				subject = routing.Subject(msg.Subject)
			}
			if err := j.Sender.SendRaw(rule.To, raw); err != nil {
				return subject, "", fmt.Errorf("forward: %w", err)
			}
			return subject, "forwarded", nil
		})
	}
	return report, nil
}

// itemHandler processes one raw message and returns its display name and
// the action taken.
type itemHandler func(ctx context.Context, raw []byte) (string, string, error)

// drainMailbox fetches acc and records one result per message. Messages whose
// handler fails stay in the mailbox; archive failures are reported separately.
func drainMailbox(ctx context.Context, fetchers connector.Factory, acc connector.Account, report *Report, logger *log.Logger, handle itemHandler) {
	fetcher, err := fetchers.FetcherFor(acc)
	if err != nil {
		report.add(acc.Name, "", err)
		return
	}

	subjects := map[string]string{}
	summary, err := fetcher.Fetch(ctx, acc, connector.HandlerFunc(func(ctx context.Context, msg *connector.FetchedMessage) error {
		name, action, err := handle(ctx, msg.Raw)
		subjects[msg.UID] = name
		if err != nil {
			err = fmt.Errorf("mail %q: %w", name, err)
			logf(logger, "error: %v", err)
		}
		report.add(name, action, err)
		return err
	}))
	if err != nil {
		err = fmt.Errorf("account %s: %w", acc.Name, err)
		logf(logger, "error: %v", err)
		report.add(acc.Name, "", err)
	}
	if summary.Fetched == 0 && err == nil {
		logf(logger, "no messages in %s", acc.Mailbox)
	}
	for _, af := range summary.ArchiveFailures {
		name := subjects[af.UID]
		if name == "" {
			name = af.UID
		}
		logf(logger, "error: archive %q: %v", name, af.Err)
		report.add(name, "", fmt.Errorf("archive %q: %w", name, af.Err))
	}
}
