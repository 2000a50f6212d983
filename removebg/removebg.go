// Package removebg is a small client for the remove.bg background removal API.
package removebg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("remove.bg API not configured")

const (
	DefaultBaseURL = "https://api.remove.bg/v1.0"

	// maxResultBytes bounds the image read back from the API.
	maxResultBytes = 50 << 20
)

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL, or DefaultBaseURL when empty.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Remove uploads image and returns the PNG with its background removed.
func (c *Client) Remove(ctx context.Context, image []byte, filename string) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	if filename == "" {
		filename = "image.jpg"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image_file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := form.WriteField("size", "auto"); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/removebg", &body)
	if err != nil {
		return nil, fmt.Errorf("create remove.bg request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call remove.bg: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		logrus.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(detail),
		}).Warn("remove.bg request failed")
		return nil, fmt.Errorf("remove.bg returned %s", resp.Status)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, fmt.Errorf("read remove.bg response: %w", err)
	}
	return out, nil
}
