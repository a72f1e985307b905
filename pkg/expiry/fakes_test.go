package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/guido-cesarano/taskexpiry/pkg/queue"
	"github.com/guido-cesarano/taskexpiry/pkg/store"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type recordingSender struct {
	mu   sync.Mutex
	sent []queue.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, m queue.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// memStore mimics the versioned conditional write of store.DynamoStore.
type memStore struct {
	mu     sync.Mutex
	items  map[string]tasks.Task
	getErr error
	// beforeUpdate runs between Get and UpdateIfStatus, to simulate a
	// concurrent writer.
	beforeUpdate func()
	updates      int
}

func newMemStore(ts ...tasks.Task) *memStore {
	s := &memStore{items: make(map[string]tasks.Task)}
	for _, t := range ts {
		s.items[t.UserID+"/"+t.TaskID] = t
	}
	return s
}

func (s *memStore) Get(_ context.Context, userID, taskID string) (*tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	t, ok := s.items[userID+"/"+taskID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *memStore) UpdateIfStatus(_ context.Context, t tasks.Task, expected tasks.Status) error {
	if s.beforeUpdate != nil {
		s.beforeUpdate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[t.UserID+"/"+t.TaskID]
	if !ok || cur.Status != expected || cur.Version != t.Version {
		return store.ErrConditionFailed
	}
	t.Version++
	s.items[t.UserID+"/"+t.TaskID] = t
	s.updates++
	return nil
}

func (s *memStore) set(t tasks.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[t.UserID+"/"+t.TaskID] = t
}

func (s *memStore) status(userID, taskID string) tasks.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[userID+"/"+taskID].Status
}

type notification struct {
	task  tasks.Task
	email string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *recordingNotifier) NotifyExpired(_ context.Context, t tasks.Task, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification{task: t, email: email})
	return nil
}

type countingMetrics struct {
	NopMetrics
	mu        sync.Mutex
	scheduled []int32
	cancelled int
	expired   int
	skipped   map[Outcome]int
	notifyErr int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{skipped: make(map[Outcome]int)}
}

func (m *countingMetrics) Scheduled(d int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, d)
}

func (m *countingMetrics) Cancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled++
}

func (m *countingMetrics) Expired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired++
}

func (m *countingMetrics) Skipped(r Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped[r]++
}

func (m *countingMetrics) NotifyFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyErr++
}

func pendingTask(deadline time.Time) tasks.Task {
	return tasks.Task{
		UserID:      "u1",
		TaskID:      "t1",
		UserEmail:   "u1@example.com",
		Description: "buy milk",
		Date:        "2024-05-01",
		Status:      tasks.StatusPending,
		Deadline:    deadline.UnixMilli(),
		CreatedAt:   epoch.UnixMilli(),
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
