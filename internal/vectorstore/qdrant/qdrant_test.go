package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/pkg/vecmath"
	"ragchat/internal/vectorstore"
)

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type filter struct {
	Must []struct {
		Key   string `json:"key"`
		Match struct {
			Value any `json:"value"`
		} `json:"match"`
	} `json:"must"`
}

func (f *filter) matches(p point) bool {
	if f == nil {
		return true
	}
	for _, cond := range f.Must {
		if fmtValue(p.Payload[cond.Key]) != fmtValue(cond.Match.Value) {
			return false
		}
	}
	return true
}

func fmtValue(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// fakeQdrant implements the handful of endpoints the store calls.
type fakeQdrant struct {
	mu       sync.Mutex
	created  bool
	indexes  []string
	points   map[string]point
	apiKeyOK bool
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeyOK = r.Header.Get("api-key") == "secret"

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/collections":
		_, _ = w.Write([]byte(`{"result":{"collections":[]}}`))
	case path == "/collections/chunks" && r.Method == http.MethodGet:
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"result":{}}`))
	case path == "/collections/chunks" && r.Method == http.MethodPut:
		f.created = true
		f.points = map[string]point{}
		_, _ = w.Write([]byte(`{"result":true}`))
	case !f.created:
		w.WriteHeader(http.StatusNotFound)
	case path == "/collections/chunks/index":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.indexes = append(f.indexes, body["field_name"])
		_, _ = w.Write([]byte(`{"result":{}}`))
	case path == "/collections/chunks/points" && r.Method == http.MethodPut:
		var body struct {
			Points []point `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		_, _ = w.Write([]byte(`{"result":{}}`))
	case path == "/collections/chunks/points/search":
		var body struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
			Filter *filter   `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		type hit struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		var hits []hit
		for _, p := range f.points {
			if body.Filter.matches(p) {
				hits = append(hits, hit{ID: p.ID, Score: vecmath.Cosine(body.Vector, p.Vector), Payload: p.Payload})
			}
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": hits})
	case path == "/collections/chunks/points/count":
		var body struct {
			Filter *filter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		n := 0
		for _, p := range f.points {
			if body.Filter.matches(p) {
				n++
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]int{"count": n}})
	case path == "/collections/chunks/points/delete":
		var body struct {
			Filter *filter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for id, p := range f.points {
			if body.Filter.matches(p) {
				delete(f.points, id)
			}
		}
		_, _ = w.Write([]byte(`{"result":{}}`))
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusBadRequest)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "chunks"}), fake
}

func rec(fileID uint, session string, idx int, text string, vec ...float32) vectorstore.Record {
	return vectorstore.Record{
		ID:         vectorstore.ChunkID(fileID, idx),
		FileID:     fileID,
		SessionID:  session,
		ChunkIndex: idx,
		Content:    text,
		Vector:     vec,
	}
}

func TestSearchBeforeAnyUpsert(t *testing.T) {
	s, _ := newTestStore(t)
	matches, err := s.Search(context.Background(), []float32{1, 0}, "s", 2)
	require.NoError(t, err)
	assert.Empty(t, matches)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertCreatesCollectionAndSearches(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{
		rec(1, "alice", 0, "cats", 1, 0),
		rec(1, "alice", 1, "dogs", 0, 1),
		rec(2, "bob", 0, "bob cats", 1, 0),
	}))
	assert.True(t, fake.created)
	assert.True(t, fake.apiKeyOK)
	assert.ElementsMatch(t, []string{"session_id", "file_id"}, fake.indexes)

	matches, err := s.Search(ctx, []float32{1, 0.2}, "alice", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "cats", matches[0].Content)
	assert.Equal(t, uint(1), matches[0].FileID)
	assert.Equal(t, "alice", matches[0].SessionID)
	assert.Equal(t, rec(1, "alice", 0, "").ID, matches[0].ID)
}

func TestDeletesReturnCounts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{
		rec(1, "s1", 0, "a", 1, 0),
		rec(1, "s1", 1, "b", 1, 0),
		rec(2, "s1", 0, "c", 1, 0),
		rec(3, "s2", 0, "d", 1, 0),
	}))

	n, err := s.DeleteByFileID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteByFileID(ctx, 99)
	require.NoError(t, err)
	assert.Zero(t, n)

	total, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestPingAndErrors(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	err := s.Upsert(context.Background(), []vectorstore.Record{{ID: "x"}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dimension"))
}
