package imap

import (
	"context"
	"time"

	"github.com/emersion/go-imap"
)

// Client is one mailbox connection. A Client is owned by a single session and is not shared between runs.
type Client interface {
	Connect(ctx context.Context) error
	Login(user, password string) error
	SelectMailbox(name string) error
	SearchSince(since time.Time) ([]uint32, error)
	FetchDates(uids []uint32) ([]*imap.Message, error)
	FetchMessages(uids []uint32) ([]*imap.Message, error)
	Close() error
}

// ClientFactory builds a fresh, unconnected Client
type ClientFactory func() Client
