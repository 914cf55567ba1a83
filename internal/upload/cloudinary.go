package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const cloudinaryAPI = "https://api.cloudinary.com/v1_1"

// Cloudinary performs unsigned uploads with an upload preset.
type Cloudinary struct {
	cloud   string
	preset  string
	baseURL string
	http    *http.Client
}

// NewCloudinary creates a Cloudinary uploader. An empty baseURL uses the public API.
func NewCloudinary(cloud, preset, baseURL string) *Cloudinary {
	if baseURL == "" {
		baseURL = cloudinaryAPI
	}
	return &Cloudinary{
		cloud:   strings.TrimSpace(cloud),
		preset:  strings.TrimSpace(preset),
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type cloudinaryRequest struct {
	File         string `json:"file"`
	UploadPreset string `json:"upload_preset"`
	PublicID     string `json:"public_id,omitempty"`
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload sends the image as a base64 data URI and returns its secure URL.
func (c *Cloudinary) Upload(ctx context.Context, data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image bytes are empty")
	}
	body, err := json.Marshal(cloudinaryRequest{
		File:         "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
		UploadPreset: c.preset,
		PublicID:     strings.TrimSuffix(sanitizeFileName(name), ".jpg"),
	})
	if err != nil {
		return "", fmt.Errorf("marshal upload request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/image/upload", c.baseURL, c.cloud)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload to cloudinary: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}

	var out cloudinaryResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
	}
	if out.SecureURL == "" {
		return "", fmt.Errorf("%w: response has no secure_url", ErrRejected)
	}
	return out.SecureURL, nil
}
