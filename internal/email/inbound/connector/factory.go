package connector

import (
	"fmt"
	"log"
	"strings"
)

// FactoryOption registers fetchers on a Registry.
type FactoryOption func(Registry)

// Registry maps normalised account types ("imaps", "pop3") to fetchers. It is
// filled by NewFactory and only read afterwards.
type Registry map[string]Fetcher

// NewFactory builds a Registry from opts.
func NewFactory(opts ...FactoryOption) Factory {
	reg := Registry{}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg
}

// DefaultFactory serves imap/imaps and pop3/pop3s accounts.
func DefaultFactory(logger *log.Logger) Factory {
	return NewFactory(
		WithFetcher(NewIMAPFetcher(WithIMAPLogger(logger)), "imap", "imaps"),
		WithFetcher(NewPOP3Fetcher(WithPOP3Logger(logger)), "pop3", "pop3s"),
	)
}

// WithFetcher serves the given account types with fetcher.
func WithFetcher(fetcher Fetcher, accountTypes ...string) FactoryOption {
	return func(reg Registry) {
		if fetcher == nil {
			return
		}
		for _, typ := range accountTypes {
			if key := accountType(typ); key != "" {
				reg[key] = fetcher
			}
		}
	}
}

// FetcherFor picks the fetcher for account.Type.
func (r Registry) FetcherFor(account Account) (Fetcher, error) {
	if fetcher, ok := r[accountType(account.Type)]; ok {
		return fetcher, nil
	}
	return nil, fmt.Errorf("no connector registered for account type %q", account.Type)
}

func accountType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
