// Package client is a typed HTTP client for the RAG chat API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ragchat/internal/app"
	"ragchat/internal/model"
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ChatRequest struct {
	Message   string `json:"message"`
	APIKey    string `json:"api_key"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

type DeleteResult struct {
	FileID  uint   `json:"file_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type History struct {
	SessionID string           `json:"session_id"`
	Turns     []model.ChatTurn `json:"turns"`
}

func (c *Client) Health(ctx context.Context) (*app.HealthReport, error) {
	var out app.HealthReport
	if err := c.do(ctx, http.MethodGet, "/health", nil, "", &out); err != nil {
		// an unhealthy server still answers with a report
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
			return nil, err
		}
	}
	return &out, nil
}

// UploadFile sends the file at path to /upload-doc.
func (c *Client) UploadFile(ctx context.Context, path, apiKey, sessionID string) (*app.UploadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file failed: %w", err)
	}
	return c.Upload(ctx, filepath.Base(path), data, apiKey, sessionID)
}

func (c *Client) Upload(ctx context.Context, filename string, data []byte, apiKey, sessionID string) (*app.UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.WriteField("api_key", apiKey); err != nil {
		return nil, err
	}
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out app.UploadResult
	if err := c.do(ctx, http.MethodPost, "/upload-doc", &body, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListDocuments(ctx context.Context, sessionID string) ([]model.Document, error) {
	var out []model.Document
	path := "/list-docs?session_id=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteDocument(ctx context.Context, sessionID string, fileID uint) (*DeleteResult, error) {
	var out DeleteResult
	path := fmt.Sprintf("/delete-doc/%d?session_id=%s", fileID, url.QueryEscape(sessionID))
	if err := c.do(ctx, http.MethodDelete, path, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (*app.ChatResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out app.ChatResult
	if err := c.do(ctx, http.MethodPost, "/chat", bytes.NewReader(payload), "application/json", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, sessionID string, limit int) (*History, error) {
	path := "/chat-history/" + url.PathEscape(sessionID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out History
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}

	var apiErr *APIError
	if resp.StatusCode >= 300 {
		apiErr = &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
	}
	if out != nil && len(raw) > 0 {
		// health reports arrive with a 503 as well
		if err := json.Unmarshal(raw, out); err != nil && apiErr == nil {
			return fmt.Errorf("decode response failed: %w", err)
		}
	}
	if apiErr != nil {
		return apiErr
	}
	return nil
}
