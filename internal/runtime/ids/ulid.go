// Package ids generates the identifiers resflow attaches to requests and
// in-process inboxes.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InboxPrefix starts every reply subject handed out by Inbox, matching the
// prefix NATS clients use for their own inboxes.
const InboxPrefix = "_INBOX."

// Generator hands out ULIDs that sort by creation time. Within one
// millisecond the random part is incremented, so ids from one generator
// never repeat or go backwards.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator returns a Generator drawing randomness from r.
func NewGenerator(r io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(r, 0)}
}

// At returns an id stamped with t.
func (g *Generator) At(t time.Time) (string, error) {
	g.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(t), g.entropy)
	g.mu.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var std = NewGenerator(rand.Reader)

// New returns a 26 character ULID for request correlation.
func New() string {
	return NewAt(time.Now())
}

// NewAt is New with an explicit timestamp. It panics if the process wide
// generator fails, which only happens when crypto/rand does.
func NewAt(t time.Time) string {
	id, err := std.At(t)
	if err != nil {
		panic(err)
	}
	return id
}

// Inbox returns a fresh reply subject.
func Inbox() string {
	return InboxPrefix + New()
}

// Time reports when id was created.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
