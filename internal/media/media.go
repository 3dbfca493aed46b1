// ABOUTME: Media-store collaborator boundary for resolving attachments to durable URLs
// ABOUTME: Binary storage is owned elsewhere; a failed upload must fail the send

package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Attachment is an uploaded binary pending resolution to a durable URL.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Uploader resolves attachments to durable URLs before a message is
// persisted. Implementations must not return a partial result: either the
// attachment is durably stored and a URL comes back, or the call errors.
type Uploader interface {
	Upload(ctx context.Context, att Attachment) (url string, err error)
}

// HTTPUploader posts attachments to the configured media-store endpoint.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
}

// NewHTTPUploader creates an uploader targeting the given endpoint.
func NewHTTPUploader(endpoint string) *HTTPUploader {
	return &HTTPUploader{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload sends the attachment as multipart form data and returns the durable
// URL from the media store's response.
func (u *HTTPUploader) Upload(ctx context.Context, att Attachment) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", att.Name)
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return "", fmt.Errorf("writing upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("media store returned %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("media store returned no url")
	}

	return result.URL, nil
}
