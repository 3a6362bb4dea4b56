package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/earshot/internal/transcript"
)

// DefaultSubject is the subject transcripts are published on when none is
// configured.
const DefaultSubject = "earshot.transcripts"

// natsConn is the subset of *nats.Conn used by [NATS].
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSOption configures a [NATS] publisher.
type NATSOption func(*natsOptions)

type natsOptions struct {
	subject string
	name    string
	timeout time.Duration
	token   string
}

// WithSubject overrides [DefaultSubject].
func WithSubject(subject string) NATSOption {
	return func(o *natsOptions) { o.subject = subject }
}

// WithClientName sets the connection name shown in NATS monitoring.
func WithClientName(name string) NATSOption {
	return func(o *natsOptions) { o.name = name }
}

// WithConnectTimeout bounds the initial dial.
func WithConnectTimeout(d time.Duration) NATSOption {
	return func(o *natsOptions) { o.timeout = d }
}

// WithToken authenticates with a bearer token.
func WithToken(token string) NATSOption {
	return func(o *natsOptions) { o.token = token }
}

// NATS publishes transcripts to a NATS subject.
type NATS struct {
	conn    natsConn
	subject string
}

var _ transcript.Publisher = (*NATS)(nil)

// DialNATS connects to the comma-separated server list in url.
func DialNATS(url string, opts ...NATSOption) (*NATS, error) {
	if url == "" {
		return nil, errors.New("publish: nats url is required")
	}
	o := natsOptions{subject: DefaultSubject, name: "earshot", timeout: 5 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}

	natsOpts := []nats.Option{
		nats.Name(o.name),
		nats.Timeout(o.timeout),
	}
	if o.token != "" {
		natsOpts = append(natsOpts, nats.Token(o.token))
	}
	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("publish: connect to nats %s: %w", url, err)
	}
	slog.Info("connected to NATS", "servers", url, "subject", o.subject)
	return newNATS(conn, o.subject), nil
}

func newNATS(conn natsConn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: conn, subject: subject}
}

// Subject returns the subject transcripts are published on.
func (n *NATS) Subject() string { return n.subject }

// Publish implements [transcript.Publisher].
func (n *NATS) Publish(ctx context.Context, t transcript.Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("publish: encode transcript %d: %w", t.Seq, err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish: nats %s: %w", n.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	err := n.conn.Drain()
	n.conn.Close()
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("publish: drain nats: %w", err)
	}
	return nil
}
