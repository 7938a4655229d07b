package qr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultRemoteTemplate is the public qrserver.com API.
const DefaultRemoteTemplate = "https://api.qrserver.com/v1/create-qr-code/?size={size}x{size}&data={data}"

// maxRemoteBytes caps downloaded images.
const maxRemoteBytes = 8 << 20

// RemoteSource downloads codes from an HTTP QR service. URLTemplate must
// contain {data}; {size} is optional.
type RemoteSource struct {
	URLTemplate string
	Client      *http.Client
}

// NewRemoteSource returns a source for template with the given timeout.
func NewRemoteSource(template string, timeout time.Duration) *RemoteSource {
	if template == "" {
		template = DefaultRemoteTemplate
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteSource{
		URLTemplate: template,
		Client:      &http.Client{Timeout: timeout},
	}
}

// RequestURL expands the template for content and px.
func (s *RemoteSource) RequestURL(content string, px int) string {
	r := strings.NewReplacer(
		"{data}", url.QueryEscape(content),
		"{size}", strconv.Itoa(pixels(px)),
	)
	return r.Replace(s.URLTemplate)
}

// Image implements Source.
func (s *RemoteSource) Image(ctx context.Context, content string, px int) (image.Image, error) {
	if err := Validate(content); err != nil {
		return nil, err
	}
	if !strings.Contains(s.URLTemplate, "{data}") {
		return nil, fmt.Errorf("remote template has no {data} placeholder: %q", s.URLTemplate)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.RequestURL(content, px), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build QR request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("QR download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("QR service returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read QR response: %w", err)
	}
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("QR service returned %s, not an image", mt.String())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode QR response: %w", err)
	}
	return img, nil
}
