// Package realtime provides the change feed the Katler core subscribes to.
//
// The store publishes a Change after every committed write; each Change
// carries the post-image of the written row as JSON. Subscribers register a
// Filter (table, event kinds, optional predicate) and receive matching
// changes on a channel in publish order. Delivery is unbounded-buffered per
// subscription so a slow consumer never blocks the publisher.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Table names a collection in the row store.
type Table string

const (
	TableProfiles    Table = "profiles"
	TableProjects    Table = "projects"
	TableMemberships Table = "project_members"
	TableInvites     Table = "invites"
	TableMessages    Table = "messages"
	TableEntryLogs   Table = "entry_logs"
)

// EventKind is the kind of write that produced a change.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
)

// Change is a committed write with the row's post-image.
type Change struct {
	Table       Table           `json:"table"`
	Kind        EventKind       `json:"kind"`
	Row         json.RawMessage `json:"row"`
	CommittedAt time.Time       `json:"committed_at"`
}

// NewChange encodes row as the post-image of a change.
func NewChange(table Table, kind EventKind, row any) (Change, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return Change{}, fmt.Errorf("encode %s row: %w", table, err)
	}
	return Change{
		Table:       table,
		Kind:        kind,
		Row:         data,
		CommittedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the post-image into v.
func (c Change) Decode(v any) error {
	if err := json.Unmarshal(c.Row, v); err != nil {
		return fmt.Errorf("decode %s row: %w", c.Table, err)
	}
	return nil
}

// Filter selects the changes a subscription receives.
type Filter struct {
	Table Table
	// Kinds restricts event kinds. Empty means all kinds.
	Kinds []EventKind
	// Predicate is evaluated last, on the subscriber side. Nil accepts all.
	Predicate func(Change) bool
}

// Matches reports whether c passes the filter.
func (f Filter) Matches(c Change) bool {
	if c.Table != f.Table {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, c.Kind) {
		return false
	}
	return f.Predicate == nil || f.Predicate(c)
}

// Publisher accepts committed changes.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Subscriber opens filtered subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, filter Filter) (*Subscription, error)
}

// Broker is both ends of the change feed.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// Subscription is a live, filtered stream of changes. Close it on every scope
// change; C is closed once the subscription has been torn down.
type Subscription struct {
	filter Filter
	out    chan Change

	mu      sync.Mutex
	queue   []Change
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func newSubscription(filter Filter, onClose func()) *Subscription {
	s := &Subscription{
		filter:  filter,
		out:     make(chan Change),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go s.pump()
	return s
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan Change {
	return s.out
}

// Filter returns the subscription's filter.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Done is closed when the subscription is torn down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// deliver enqueues c if it matches the filter.
func (s *Subscription) deliver(c Change) {
	if !s.filter.Matches(c) {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next Change
		ok := len(s.queue) > 0
		if ok {
			next = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
