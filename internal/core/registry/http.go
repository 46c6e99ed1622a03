package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

type statusUpdate struct {
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
	PageCount  int    `json:"pageCount,omitempty"`
	Message    string `json:"message,omitempty"`
}

// HTTPRegistry reports status to the web app's document status route.
type HTTPRegistry struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPRegistry(url, bearerToken string) *HTTPRegistry {
	return &HTTPRegistry{
		url:    url,
		token:  bearerToken,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *HTTPRegistry) ReportStatus(ctx context.Context, documentID string, status models.DocumentStatus, pageCount int, errMsg string) error {
	body, err := json.Marshal(statusUpdate{
		DocumentID: documentID,
		Status:     string(status),
		PageCount:  pageCount,
		Message:    errMsg,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status route returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

var _ core.DocumentRegistry = (*HTTPRegistry)(nil)
