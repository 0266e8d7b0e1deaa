package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lychee-technology/quarry"
	"github.com/lychee-technology/quarry/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBulkService serves one job with a fixed snapshot and a pre-filled
// event channel.
type fakeBulkService struct {
	snapshot quarry.ProgressEvent
	events   chan quarry.ProgressEvent
}

func (f *fakeBulkService) Submit(context.Context, *quarry.BulkRequest) (uuid.UUID, error) {
	return f.snapshot.JobID, nil
}

func (f *fakeBulkService) Job(id uuid.UUID) (*quarry.ProgressEvent, error) {
	if id != f.snapshot.JobID {
		return nil, quarry.NewJobNotFoundError(id.String())
	}
	snapshot := f.snapshot
	return &snapshot, nil
}

func (f *fakeBulkService) Subscribe(uuid.UUID) (<-chan quarry.ProgressEvent, func()) {
	return f.events, func() {}
}

func newEventsTestServer(t *testing.T, bulk quarry.BulkService) *httptest.Server {
	t.Helper()
	server := NewServer(&factory.Components{Bulk: bulk}, quarry.NewModelRegistry())
	server.RegisterRoutes()
	srv := httptest.NewServer(server.mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialJobEvents(t *testing.T, srv *httptest.Server, jobID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/" + jobID.String() + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestJobEventsDeliversTerminalEventPendingAtSubscribe(t *testing.T) {
	jobID := uuid.New()
	fake := &fakeBulkService{
		snapshot: quarry.ProgressEvent{JobID: jobID, Status: quarry.JobRunning, ProcessedCount: 40},
		events:   make(chan quarry.ProgressEvent, 1),
	}
	// The terminal event is already queued when the client connects; it must
	// still be delivered after the snapshot instead of hanging the stream.
	fake.events <- quarry.ProgressEvent{JobID: jobID, Status: quarry.JobCompleted, ProcessedCount: 42}

	srv := newEventsTestServer(t, fake)
	conn := dialJobEvents(t, srv, jobID)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first quarry.ProgressEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, quarry.JobRunning, first.Status)

	var second quarry.ProgressEvent
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, quarry.JobCompleted, second.Status)
	assert.Equal(t, int64(42), second.ProcessedCount)
}

func TestJobEventsTerminalSnapshotClosesImmediately(t *testing.T) {
	jobID := uuid.New()
	fake := &fakeBulkService{
		snapshot: quarry.ProgressEvent{JobID: jobID, Status: quarry.JobCompleted, ProcessedCount: 7},
		events:   make(chan quarry.ProgressEvent),
	}

	srv := newEventsTestServer(t, fake)
	conn := dialJobEvents(t, srv, jobID)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot quarry.ProgressEvent
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, quarry.JobCompleted, snapshot.Status)

	// The server ends the stream after a terminal snapshot.
	var extra quarry.ProgressEvent
	assert.Error(t, conn.ReadJSON(&extra))
}

func TestJobEventsUnknownJob(t *testing.T) {
	fake := &fakeBulkService{
		snapshot: quarry.ProgressEvent{JobID: uuid.New()},
		events:   make(chan quarry.ProgressEvent),
	}

	srv := newEventsTestServer(t, fake)
	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + uuid.NewString() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
