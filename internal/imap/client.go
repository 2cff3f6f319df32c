package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"brokerage-mail-ingestor/internal/mailparse"
	"brokerage-mail-ingestor/internal/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

type StandardClient struct {
	client   *client.Client
	host     string
	port     int
	startTLS bool
	timeout  time.Duration
}

// NewStandardClient creates a StandardClient for the configured server. A zero timeout falls back to 30 seconds.
func NewStandardClient(cfg models.EmailConfig) *StandardClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StandardClient{
		host:     cfg.Host,
		port:     cfg.Port,
		startTLS: cfg.StartTLS,
		timeout:  timeout,
	}
}

// Connect dials the server over implicit TLS, or over plain TCP upgraded with STARTTLS when configured.
// The dial honours both the client timeout and the context deadline.
func (c *StandardClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: c.timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	tlsConfig := &tls.Config{ServerName: c.host}

	var cl *client.Client
	var err error
	if c.startTLS {
		cl, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			if err = cl.StartTLS(tlsConfig); err != nil {
				_ = cl.Logout()
			}
		}
	} else {
		cl, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("IMAP connection error: %w", err)
	}

	cl.Timeout = c.timeout
	c.client = cl
	return nil
}

// Login authenticates the user with the IMAP server using the provided username and password. It returns an error if authentication fails or if there is no active connection.
func (c *StandardClient) Login(user, password string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Login(user, password)
}

// SelectMailbox opens the folder read-only so flags are never changed by ingestion
func (c *StandardClient) SelectMailbox(name string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	_, err := c.client.Select(name, true)
	return err
}

// SearchSince returns the UIDs of messages received on or after the day of since, in ascending order
func (c *StandardClient) SearchSince(since time.Time) ([]uint32, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("error searching for recent emails: %w", err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchDates retrieves only UID, internal date and envelope, enough to place each message in the poll window
func (c *StandardClient) FetchDates(uids []uint32) ([]*imap.Message, error) {
	return c.uidFetch(uids, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, imap.FetchEnvelope})
}

// FetchMessages retrieves envelope, UID, internal date and full body for every UID, returned in the order requested
func (c *StandardClient) FetchMessages(uids []uint32) ([]*imap.Message, error) {
	return c.uidFetch(uids, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, mailparse.BodySection.FetchItem()})
}

func (c *StandardClient) uidFetch(uids []uint32, items []imap.FetchItem) ([]*imap.Message, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	byUID := make(map[uint32]*imap.Message, len(uids))
	for m := range messages {
		byUID[m.Uid] = m
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching %d messages: %w", len(uids), err)
	}

	ordered := make([]*imap.Message, 0, len(byUID))
	for _, uid := range uids {
		if m, ok := byUID[uid]; ok {
			ordered = append(ordered, m)
		}
	}
	return ordered, nil
}

// Close logs out from the IMAP server and closes the connection. If there is no active connection, it simply returns nil.
func (c *StandardClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	return err
}
