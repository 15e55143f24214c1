package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/floodsync/internal/ir"
)

var (
	// ErrUnavailable matches every failed remote call.
	ErrUnavailable = errors.New("remote unavailable")

	// ErrNotConfigured reports that no remote endpoint was configured.
	ErrNotConfigured = errors.New("remote not configured")

	// ErrMalformed reports an endpoint or credential that cannot be used.
	ErrMalformed = errors.New("remote configuration malformed")
)

// Mirror is the remote row store.
type Mirror interface {
	// Fetch returns every record value in the collection. An empty
	// collection yields an empty slice, not an error.
	Fetch(ctx context.Context, coll ir.Collection) ([]json.RawMessage, error)

	// Upsert inserts or replaces the record keyed by (coll, id).
	Upsert(ctx context.Context, coll ir.Collection, id string, value json.RawMessage) error

	// Swap replaces the record only if it is absent or its top-level
	// string field guard.Field currently equals guard.Equals. It reports
	// whether the write happened.
	Swap(ctx context.Context, coll ir.Collection, id string, guard Guard, value json.RawMessage) (bool, error)

	// Increment atomically adds one to the integer field of the record,
	// inserting seed first when the record is absent. It returns the
	// record as stored after the increment.
	Increment(ctx context.Context, coll ir.Collection, id, field string, seed json.RawMessage) (json.RawMessage, error)

	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, coll ir.Collection, id string) error

	Close() error
}

// Announcer is an optional best-effort push channel between devices.
type Announcer interface {
	// Announce tells other devices that something changed.
	Announce(ctx context.Context) error

	// Listen calls fn for every announcement until ctx is done.
	Listen(ctx context.Context, fn func()) error
}

// Guard is the precondition of a Swap.
type Guard struct {
	Field  string
	Equals string
}

// CallError describes a failed remote call.
type CallError struct {
	Op         string
	Collection ir.Collection
	Err        error
}

func (e *CallError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("remote %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Is makes every CallError match ErrUnavailable.
func (e *CallError) Is(target error) bool { return target == ErrUnavailable }

func wrap(op string, coll ir.Collection, err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Op: op, Collection: coll, Err: err}
}

// Kind is the backend selected by the endpoint scheme.
type Kind string

const (
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
)

// Options configures Dial.
type Options struct {
	URL     string
	Key     string
	Timeout time.Duration
	Channel string
}

// Endpoint is a validated remote address with the credential applied.
type Endpoint struct {
	Kind Kind
	URL  string
}

// ParseEndpoint validates the endpoint URL and credential. It returns
// ErrNotConfigured when both are empty and ErrMalformed for anything
// that cannot be dialled.
func ParseEndpoint(rawURL, key string) (Endpoint, error) {
	rawURL = strings.TrimSpace(rawURL)
	key = strings.TrimSpace(key)
	if rawURL == "" && key == "" {
		return Endpoint{}, ErrNotConfigured
	}
	if rawURL == "" {
		return Endpoint{}, fmt.Errorf("%w: endpoint URL missing", ErrMalformed)
	}
	if key == "" {
		return Endpoint{}, fmt.Errorf("%w: credential missing", ErrMalformed)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: endpoint has no host", ErrMalformed)
	}

	var kind Kind
	switch u.Scheme {
	case "redis", "rediss":
		kind = KindRedis
	case "postgres", "postgresql":
		kind = KindPostgres
		user := "postgres"
		if u.User != nil && u.User.Username() != "" {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, key)
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrMalformed, u.Scheme)
	}
	return Endpoint{Kind: kind, URL: u.String()}, nil
}

// Dial connects to the configured mirror and verifies it answers.
func Dial(ctx context.Context, opts Options) (Mirror, error) {
	ep, err := ParseEndpoint(opts.URL, opts.Key)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	switch ep.Kind {
	case KindRedis:
		return DialRedis(ctx, ep.URL, opts.Key, opts.Channel, opts.Timeout)
	default:
		return DialPostgres(ctx, ep.URL, opts.Channel, opts.Timeout)
	}
}
