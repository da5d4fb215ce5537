package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// BroadcasterSuite is a test suite for Broadcaster operations.
type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster()
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

// mockResponseWriter implements http.ResponseWriter and http.Flusher for testing.
type mockResponseWriter struct {
	header     http.Header
	body       []byte
	statusCode int
	mu         sync.Mutex
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{
		header:     make(http.Header),
		statusCode: http.StatusOK,
	}
}

func (m *mockResponseWriter) Header() http.Header {
	return m.header
}

func (m *mockResponseWriter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = append(m.body, data...)
	return len(data), nil
}

func (m *mockResponseWriter) WriteHeader(statusCode int) {
	m.statusCode = statusCode
}

func (m *mockResponseWriter) Flush() {}

func (m *mockResponseWriter) GetBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

// failingWriter rejects every write.
type failingWriter struct {
	*mockResponseWriter
}

func (f failingWriter) Write([]byte) (int, error) {
	return 0, assert.AnError
}

// plainWriter cannot flush.
type plainWriter struct {
	http.ResponseWriter
}

func (s *BroadcasterSuite) TestNewBroadcaster() {
	s.NotNil(s.broadcaster.clients)
	s.Equal(0, s.broadcaster.ClientCount())
	s.Zero(s.broadcaster.Published())
}

func (s *BroadcasterSuite) TestAddClient() {
	client, err := s.broadcaster.AddClient(newMockResponseWriter())
	s.Require().NoError(err)
	s.NotEmpty(client.ID)
	s.NotNil(client.Done)
	s.Equal(1, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestAddClientRequiresFlusher() {
	_, err := s.broadcaster.AddClient(plainWriter{httptest.NewRecorder()})
	s.Error(err)
	s.Equal(0, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestRemoveClient() {
	client, err := s.broadcaster.AddClient(newMockResponseWriter())
	s.Require().NoError(err)

	s.broadcaster.RemoveClient(client)
	s.Equal(0, s.broadcaster.ClientCount())

	select {
	case <-client.Done:
	default:
		s.Fail("Done channel should be closed")
	}

	// A second removal must not panic on the closed channel.
	s.broadcaster.RemoveClient(client)
}

func (s *BroadcasterSuite) TestPublish() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	s.broadcaster.Publish("stall_detected", map[string]string{"rule_id": "queue_timeout"})

	s.Equal("event: stall_detected\ndata: {\"rule_id\":\"queue_timeout\"}\n\n", w.GetBody())
	s.Equal(uint64(1), s.broadcaster.Published())
}

func (s *BroadcasterSuite) TestPublishNoClients() {
	s.broadcaster.Publish("poll_cycle_completed", map[string]int{"sessions_polled": 0})
	s.Zero(s.broadcaster.Published())
}

func (s *BroadcasterSuite) TestPublishMultipleClients() {
	writers := make([]*mockResponseWriter, 3)
	for i := range writers {
		writers[i] = newMockResponseWriter()
		_, err := s.broadcaster.AddClient(writers[i])
		s.Require().NoError(err)
	}

	s.broadcaster.Publish("pr_synced", map[string]any{"pr_number": 7})

	for i, w := range writers {
		s.Contains(w.GetBody(), "event: pr_synced", "client %d should receive the event", i)
	}
}

func (s *BroadcasterSuite) TestPublishDropsDeadClients() {
	_, err := s.broadcaster.AddClient(failingWriter{newMockResponseWriter()})
	s.Require().NoError(err)
	healthy := newMockResponseWriter()
	_, err = s.broadcaster.AddClient(healthy)
	s.Require().NoError(err)

	s.broadcaster.Publish("stall_detected", "x")

	s.Equal(1, s.broadcaster.ClientCount())
	s.Contains(healthy.GetBody(), "data: \"x\"")
}

func (s *BroadcasterSuite) TestPublishUnmarshalable() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	s.broadcaster.Publish("bad", make(chan int))
	s.Empty(w.GetBody())
}

func TestFormat(t *testing.T) {
	frame, err := Format("poll_cycle_completed", struct {
		CycleID string `json:"cycle_id"`
	}{CycleID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "event: poll_cycle_completed\ndata: {\"cycle_id\":\"abc\"}\n\n", string(frame))
}

func TestClientUniqueIDs(t *testing.T) {
	b := NewBroadcaster()
	ids := make(map[string]bool)

	for i := 0; i < 100; i++ {
		client, err := b.AddClient(newMockResponseWriter())
		require.NoError(t, err)
		assert.False(t, ids[client.ID], "ID %s should be unique", client.ID)
		ids[client.ID] = true
	}
}

func TestHandleSSE(t *testing.T) {
	b := NewBroadcaster()
	w := newMockResponseWriter()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.HandleSSE(w, req)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	b.Publish("stall_detected", map[string]string{"session_id": "s1"})

	cancel()
	<-done

	assert.Equal(t, 0, b.ClientCount())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.GetBody()
	require.True(t, strings.HasPrefix(body, "event: connected\n"), body)
	assert.Contains(t, body, "event: stall_detected\ndata: {\"session_id\":\"s1\"}\n\n")
}

func TestConcurrentPublish(t *testing.T) {
	b := NewBroadcaster()
	for i := 0; i < 10; i++ {
		_, err := b.AddClient(newMockResponseWriter())
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Publish("tick", map[string]int{"index": i})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, b.ClientCount())
	assert.Equal(t, uint64(100), b.Published())
}

func TestBroadcasterConcurrentAddRemove(t *testing.T) {
	b := NewBroadcaster()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := b.AddClient(newMockResponseWriter())
			if err == nil && i%2 == 0 {
				b.RemoveClient(client)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, b.ClientCount())
}
