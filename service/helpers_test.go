package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// FixedTime is the clock used across service tests.
var FixedTime = time.Date(2025, time.March, 5, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return FixedTime }

// MockGenerator implements TextGenerator with testify/mock.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error) {
	args := m.Called(prompt, jsonOutput)
	return args.String(0), args.Error(1)
}

// MockSender implements Sender with testify/mock.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	args := m.Called(to, subject)
	return args.Error(0)
}

// recordingNotifier collects notifications in memory.
type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(_ context.Context, _, title, _, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) Titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}

// fakeStorage implements ObjectStorage.
type fakeStorage struct {
	keys []string
	err  error
}

func (f *fakeStorage) Upload(_ context.Context, key, _ string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://files.example.com/" + key, nil
}

// fakeIndexer implements Indexer.
type fakeIndexer struct {
	mu  sync.Mutex
	ids map[string]int
}

func (f *fakeIndexer) IndexDocument(_ context.Context, index, id string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids == nil {
		f.ids = map[string]int{}
	}
	f.ids[index+"/"+id]++
	return nil
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func timePtr(t time.Time) *time.Time { return &t }
