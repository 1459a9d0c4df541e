// Package realtime pushes fresh snapshots of student data to live subscribers whenever a
// write is confirmed.
package realtime

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/trainer-ledger-api/internal/models"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("realtime hub closed")

// Loader reads the current state of a topic. DocumentStore satisfies it.
type Loader interface {
	ListStudents(ctx context.Context) ([]models.Student, error)
	GetStudent(ctx context.Context, id string) (*models.Student, error)
	ListHistory(ctx context.Context, studentID string) ([]models.HistoryEntry, error)
	ListMeasurements(ctx context.Context, studentID string) ([]models.MeasurementEntry, error)
}

// Snapshot is the full state of a topic at one point in time. Sequence grows per topic.
// Student is nil when the record no longer exists. Err carries a failed reload.
type Snapshot struct {
	Topic        Topic
	Sequence     uint64
	Students     []models.Student
	Student      *models.Student
	History      []models.HistoryEntry
	Measurements []models.MeasurementEntry
	Err          error
	At           time.Time
}

// Hub fans out topic snapshots to subscribers. Each subscriber has its own delivery goroutine
// and a one-slot mailbox, so a slow consumer skips to the newest snapshot and never sees an
// older one after a newer one.
type Hub struct {
	loader Loader
	logger *zap.Logger

	mu     sync.Mutex
	topics map[Topic]*topicState
	nextID uint64
	count  int
	closed bool
	done   chan struct{}
}

type topicState struct {
	// load serialises reloads so sequences are offered in order.
	load sync.Mutex
	seq  uint64
	last *Snapshot
	subs map[uint64]*subscriber
}

type subscriber struct {
	fn   func(Snapshot)
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	pending *Snapshot
	offered uint64
}

// NewHub builds a Hub reading through loader.
func NewHub(loader Loader, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{loader: loader, logger: logger, topics: make(map[Topic]*topicState), done: make(chan struct{})}
}

// Subscribe registers fn for topic and delivers the current snapshot straight away. Delivery
// stops when ctx is done or the returned func is called.
func (h *Hub) Subscribe(ctx context.Context, topic Topic, fn func(Snapshot)) (func(), error) {
	sub := &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	state, ok := h.topics[topic]
	if !ok {
		state = &topicState{subs: make(map[uint64]*subscriber)}
		h.topics[topic] = state
	}
	h.nextID++
	id := h.nextID
	state.subs[id] = sub
	h.count++
	h.mu.Unlock()

	unsubscribe := func() {
		sub.once.Do(func() {
			h.remove(topic, id)
			close(sub.done)
		})
	}

	go sub.run()
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()

	state.load.Lock()
	if state.last != nil {
		sub.offer(*state.last)
	} else {
		h.reload(context.WithoutCancel(ctx), topic, state)
	}
	state.load.Unlock()

	return unsubscribe, nil
}

// Notify reloads each topic that has subscribers and delivers the result. Topics nobody
// follows are skipped.
func (h *Hub) Notify(ctx context.Context, topics ...Topic) {
	ctx = context.WithoutCancel(ctx)
	for _, topic := range topics {
		h.mu.Lock()
		state, ok := h.topics[topic]
		h.mu.Unlock()
		if !ok {
			continue
		}
		state.load.Lock()
		h.reload(ctx, topic, state)
		state.load.Unlock()
	}
}

// SubscriberCount reports the live subscriptions across all topics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Done is closed once the hub shuts down.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Close stops every subscription and rejects new ones. It is safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	var subs []*subscriber
	for _, state := range h.topics {
		for _, sub := range state.subs {
			subs = append(subs, sub)
		}
	}
	h.topics = make(map[Topic]*topicState)
	h.count = 0
	h.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}

// reload must run with state.load held.
func (h *Hub) reload(ctx context.Context, topic Topic, state *topicState) {
	state.seq++
	snapshot := h.load(ctx, topic)
	snapshot.Sequence = state.seq
	if snapshot.Err != nil {
		h.logger.Warn("realtime reload failed", zap.String("topic", topic.String()), zap.Error(snapshot.Err))
		state.last = nil
	} else {
		state.last = &snapshot
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(state.subs))
	for _, sub := range state.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.offer(snapshot)
	}
}

func (h *Hub) load(ctx context.Context, topic Topic) Snapshot {
	snapshot := Snapshot{Topic: topic, At: time.Now().UTC()}
	switch topic.Kind {
	case KindStudents:
		snapshot.Students, snapshot.Err = h.loader.ListStudents(ctx)
	case KindStudent:
		student, err := h.loader.GetStudent(ctx, topic.StudentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			snapshot.Err = err
		}
		snapshot.Student = student
	case KindHistory:
		snapshot.History, snapshot.Err = h.loader.ListHistory(ctx, topic.StudentID)
	case KindMeasurements:
		snapshot.Measurements, snapshot.Err = h.loader.ListMeasurements(ctx, topic.StudentID)
	default:
		snapshot.Err = errors.New("unknown topic kind " + string(topic.Kind))
	}
	return snapshot
}

func (h *Hub) remove(topic Topic, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.topics[topic]
	if !ok {
		return
	}
	if _, ok := state.subs[id]; !ok {
		return
	}
	delete(state.subs, id)
	h.count--
	if len(state.subs) == 0 {
		delete(h.topics, topic)
	}
}

// offer replaces any undelivered snapshot with a newer one.
func (s *subscriber) offer(snapshot Snapshot) {
	s.mu.Lock()
	if snapshot.Sequence <= s.offered {
		s.mu.Unlock()
		return
	}
	s.offered = snapshot.Sequence
	s.pending = &snapshot
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		next := s.pending
		s.pending = nil
		s.mu.Unlock()
		if next == nil {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(*next)
	}
}
