// Package qdrant is a minimal REST client to Qdrant. The collection uses
// cosine distance and is created on the first upsert, once the embedding
// dimension is known.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ragchat/internal/vectorstore"
)

var errNotFound = errors.New("qdrant: not found")

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type Store struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu    sync.Mutex
	ready bool
}

func New(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *Store) Name() string { return "qdrant" }

func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     r.ID,
			"vector": r.Vector,
			"payload": map[string]any{
				"file_id":     r.FileID,
				"session_id":  r.SessionID,
				"chunk_index": r.ChunkIndex,
				"text":        r.Content,
			},
		}
	}
	body := map[string]any{"points": points}
	if err := s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, sessionID string, k int) ([]vectorstore.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter":       matchFilter("session_id", sessionID),
	}
	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float64 `json:"score"`
			Payload struct {
				FileID     uint   `json:"file_id"`
				SessionID  string `json:"session_id"`
				ChunkIndex int    `json:"chunk_index"`
				Text       string `json:"text"`
			} `json:"payload"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp)
	if errors.Is(err, errNotFound) {
		// nothing has been indexed yet
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	matches := make([]vectorstore.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		matches = append(matches, vectorstore.Match{
			Record: vectorstore.Record{
				ID:         fmt.Sprint(r.ID),
				FileID:     r.Payload.FileID,
				SessionID:  r.Payload.SessionID,
				ChunkIndex: r.Payload.ChunkIndex,
				Content:    r.Payload.Text,
			},
			Score: r.Score,
		})
	}
	return matches, nil
}

func (s *Store) DeleteByFileID(ctx context.Context, fileID uint) (int64, error) {
	return s.deleteWhere(ctx, matchFilter("file_id", fileID))
}

func (s *Store) DeleteBySessionID(ctx context.Context, sessionID string) (int64, error) {
	return s.deleteWhere(ctx, matchFilter("session_id", sessionID))
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.count(ctx, nil)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.do(ctx, http.MethodGet, "/collections", nil, nil); err != nil {
		return fmt.Errorf("qdrant ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) deleteWhere(ctx context.Context, filter map[string]any) (int64, error) {
	n, err := s.count(ctx, filter)
	if err != nil || n == 0 {
		return 0, err
	}
	body := map[string]any{"filter": filter}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), body, nil); err != nil {
		return 0, fmt.Errorf("qdrant delete failed: %w", err)
	}
	return n, nil
}

func (s *Store) count(ctx context.Context, filter map[string]any) (int64, error) {
	body := map[string]any{"exact": true}
	if filter != nil {
		body["filter"] = filter
	}
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), body, &resp)
	if errors.Is(err, errNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("qdrant count failed: %w", err)
	}
	return resp.Result.Count, nil
}

func (s *Store) ensureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, nil)
	switch {
	case err == nil:
	case errors.Is(err, errNotFound):
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		if err := s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
			return fmt.Errorf("qdrant create collection failed: %w", err)
		}
		for field, schema := range map[string]string{"session_id": "keyword", "file_id": "integer"} {
			index := map[string]any{"field_name": field, "field_schema": schema}
			if err := s.do(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), index, nil); err != nil {
				return fmt.Errorf("qdrant create %s index failed: %w", field, err)
			}
		}
	default:
		return fmt.Errorf("qdrant get collection failed: %w", err)
	}

	s.ready = true
	return nil
}

func (s *Store) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

func (s *Store) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return fmt.Errorf("build qdrant request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, path, resp.Status, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func matchFilter(key string, value any) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": key, "match": map[string]any{"value": value}},
		},
	}
}
