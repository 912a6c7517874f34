package vecindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/pkg/memory"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

// indexService is a minimal in-process stand-in for the remote index
type indexService struct {
	readyAfter   int32 // describe calls before reporting ready
	describes    atomic.Int32
	creates      atomic.Int32
	upserts      atomic.Int32
	deletes      atomic.Int32
	failUpserts  bool
	existsOn409  bool
	lastUpsert   upsertRequest
	lastQuery    queryRequest
	lastDelete   deleteRequest
	queryMatches []memory.IndexMatch
}

func (s *indexService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /databases", func(w http.ResponseWriter, r *http.Request) {
		s.creates.Add(1)
		if s.existsOn409 {
			http.Error(w, `{"error":"already exists"}`, http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /databases/{name}", func(w http.ResponseWriter, r *http.Request) {
		n := s.describes.Add(1)
		var resp describeResponse
		resp.Status.Ready = n > s.readyAfter
		if resp.Status.Ready {
			resp.Status.State = "Ready"
		} else {
			resp.Status.State = "Initializing"
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		s.upserts.Add(1)
		if s.failUpserts {
			http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
			return
		}
		json.NewDecoder(r.Body).Decode(&s.lastUpsert)
		json.NewEncoder(w).Encode(upsertResponse{UpsertedCount: len(s.lastUpsert.Vectors)})
	})
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&s.lastQuery)
		json.NewEncoder(w).Encode(queryResponse{Matches: s.queryMatches})
	})
	mux.HandleFunc("POST /vectors/delete", func(w http.ResponseWriter, r *http.Request) {
		s.deletes.Add(1)
		json.NewDecoder(r.Body).Decode(&s.lastDelete)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newReadyClient(t *testing.T, svc *indexService) *Client {
	t.Helper()
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		Endpoint:     server.URL,
		APIKey:       "test-key",
		Namespace:    "memories",
		Dimension:    4,
		PollInterval: time.Millisecond,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, client.Initialize(context.Background()))
	require.Equal(t, memory.StateReady, client.State())
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{Namespace: "n", Dimension: 4})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{Endpoint: "http://x", Dimension: 4})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{Endpoint: "http://x", Namespace: "n"})
	assert.Error(t, err)
}

func TestInitialize_BecomesReady(t *testing.T) {
	svc := &indexService{readyAfter: 2}
	client := newReadyClient(t, svc)

	assert.Equal(t, int32(1), svc.creates.Load())
	assert.GreaterOrEqual(t, svc.describes.Load(), int32(3))
	assert.Equal(t, memory.StateReady, client.State())
}

func TestInitialize_ExistingNamespaceIsFine(t *testing.T) {
	svc := &indexService{existsOn409: true}
	client := newReadyClient(t, svc)
	assert.Equal(t, memory.StateReady, client.State())
}

func TestInitialize_Idempotent(t *testing.T) {
	svc := &indexService{}
	client := newReadyClient(t, svc)

	require.NoError(t, client.Initialize(context.Background()))
	assert.Equal(t, int32(1), svc.creates.Load())
}

func TestInitialize_UnreachableDegrades(t *testing.T) {
	client, err := NewClient(ClientConfig{
		Endpoint:        "http://127.0.0.1:1",
		Namespace:       "memories",
		Dimension:       4,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 2,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	// Initialize never fails the caller
	require.NoError(t, client.Initialize(context.Background()))
	assert.Equal(t, memory.StateDegraded, client.State())
}

func TestInitialize_PollTimeoutDegrades(t *testing.T) {
	svc := &indexService{readyAfter: 100}
	server := httptest.NewServer(svc.handler())
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Endpoint:        server.URL,
		Namespace:       "memories",
		Dimension:       4,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 3,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, client.Initialize(context.Background()))
	assert.Equal(t, memory.StateDegraded, client.State())
}

func TestInitialize_NoSleepAfterFinalAttempt(t *testing.T) {
	svc := &indexService{readyAfter: 100}
	server := httptest.NewServer(svc.handler())
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Endpoint:        server.URL,
		Namespace:       "memories",
		Dimension:       4,
		PollInterval:    time.Hour,
		MaxPollAttempts: 1,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, client.Initialize(context.Background()))
	assert.Equal(t, memory.StateDegraded, client.State())
	assert.Less(t, time.Since(start), time.Minute)
}

func TestDegradedClient_AllOpsNoOp(t *testing.T) {
	client, err := NewClient(ClientConfig{
		Endpoint:        "http://127.0.0.1:1",
		Namespace:       "memories",
		Dimension:       4,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 1,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, client.Initialize(context.Background()))
	require.Equal(t, memory.StateDegraded, client.State())

	assert.NoError(t, client.Upsert(context.Background(), []Record{{ID: "x", Values: []float32{1, 2, 3, 4}}}))

	matches, err := client.Query(context.Background(), []float32{1, 2, 3, 4}, 5, memory.IndexFilter{})
	assert.NoError(t, err)
	assert.Empty(t, matches)

	assert.NoError(t, client.Delete(context.Background(), "x"))
	assert.NoError(t, client.DeleteByFilter(context.Background(), memory.IndexFilter{RoomID: "r1"}))
}

func TestUninitializedClient_OpsNoOp(t *testing.T) {
	client, err := NewClient(ClientConfig{
		Endpoint:  "http://127.0.0.1:1",
		Namespace: "memories",
		Dimension: 4,
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	require.Equal(t, memory.StateUninitialized, client.State())

	assert.NoError(t, client.Upsert(context.Background(), []Record{{ID: "x"}}))
	matches, err := client.Query(context.Background(), []float32{1}, 5, memory.IndexFilter{})
	assert.NoError(t, err)
	assert.Nil(t, matches)
}

func TestUpsert_SendsNamespaceAndVectors(t *testing.T) {
	svc := &indexService{}
	client := newReadyClient(t, svc)

	records := []Record{
		{ID: "a", Values: []float32{1, 2, 3, 4}},
		{ID: "b", Values: []float32{4, 3, 2, 1}},
	}
	require.NoError(t, client.Upsert(context.Background(), records))

	assert.Equal(t, "memories", svc.lastUpsert.Namespace)
	require.Len(t, svc.lastUpsert.Vectors, 2)
	assert.Equal(t, "a", svc.lastUpsert.Vectors[0].ID)
}

func TestUpsert_RemoteErrorWrapped(t *testing.T) {
	svc := &indexService{failUpserts: true}
	client := newReadyClient(t, svc)

	err := client.Upsert(context.Background(), []Record{{ID: "a", Values: []float32{1, 2, 3, 4}}})
	assert.ErrorIs(t, err, memory.ErrIndexWrite)
}

func TestQuery_ReturnsMatches(t *testing.T) {
	svc := &indexService{queryMatches: []memory.IndexMatch{
		{ID: "m1", Score: 0.92, Metadata: &memory.IndexMetadata{Text: "hi", RoomID: "r1"}},
	}}
	client := newReadyClient(t, svc)

	matches, err := client.Query(context.Background(), []float32{1, 2, 3, 4}, 7, memory.IndexFilter{RoomID: "r1", Table: "messages"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m1", matches[0].ID)
	assert.Equal(t, 0.92, matches[0].Score)

	assert.Equal(t, 7, svc.lastQuery.TopK)
	assert.Equal(t, "r1", svc.lastQuery.Filter.RoomID)
	assert.True(t, svc.lastQuery.IncludeMetadata)
}

func TestQuery_RemoteFailureYieldsEmpty(t *testing.T) {
	svc := &indexService{}
	server := httptest.NewServer(svc.handler())

	client, err := NewClient(ClientConfig{
		Endpoint:     server.URL,
		Namespace:    "memories",
		Dimension:    4,
		PollInterval: time.Millisecond,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, client.Initialize(context.Background()))
	server.Close()

	matches, err := client.Query(context.Background(), []float32{1, 2, 3, 4}, 5, memory.IndexFilter{})
	assert.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDelete_SendsIDsAndFilter(t *testing.T) {
	svc := &indexService{}
	client := newReadyClient(t, svc)

	require.NoError(t, client.Delete(context.Background(), "m1"))
	assert.Equal(t, []string{"m1"}, svc.lastDelete.IDs)

	require.NoError(t, client.DeleteByFilter(context.Background(), memory.IndexFilter{RoomID: "r1", Table: "messages"}))
	require.NotNil(t, svc.lastDelete.Filter)
	assert.Equal(t, "r1", svc.lastDelete.Filter.RoomID)
	assert.Equal(t, int32(2), svc.deletes.Load())
}
