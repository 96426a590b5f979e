// Package storage talks to the media CDN: server-side uploads, deletions,
// and signing for direct client uploads.
package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	cloudName  string
	apiKey     string
	apiSecret  string
	folder     string
}

func New(cloudName, apiKey, apiSecret, folder string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://api.cloudinary.com",
		cloudName:  cloudName,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		folder:     folder,
	}
}

// Sign computes the CDN request signature: the parameters sorted by key,
// joined as key=value with &, concatenated with the secret and hashed.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

// UploadParams is a signed parameter set handed to clients for direct
// uploads.
type UploadParams struct {
	Timestamp int64  `json:"timestamp"`
	Folder    string `json:"folder"`
	Signature string `json:"signature"`
	APIKey    string `json:"apiKey"`
	CloudName string `json:"cloudName"`
}

// SignUpload produces the parameters a client needs to upload straight to
// the CDN into our folder.
func (c *Client) SignUpload(now time.Time) UploadParams {
	ts := now.Unix()
	params := map[string]string{
		"timestamp": strconv.FormatInt(ts, 10),
		"folder":    c.folder,
	}
	return UploadParams{
		Timestamp: ts,
		Folder:    c.folder,
		Signature: Sign(params, c.apiSecret),
		APIKey:    c.apiKey,
		CloudName: c.cloudName,
	}
}

// UploadResult is the subset of the CDN response we keep.
type UploadResult struct {
	PublicID         string `json:"public_id"`
	SecureURL        string `json:"secure_url"`
	URL              string `json:"url"`
	OriginalFilename string `json:"original_filename"`
	Format           string `json:"format"`
	Bytes            int64  `json:"bytes"`
}

// Upload pushes a file to the CDN as a raw asset under our folder.
func (c *Client) Upload(ctx context.Context, filename string, contents []byte) (UploadResult, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	signature := Sign(map[string]string{"timestamp": ts, "folder": c.folder}, c.apiSecret)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := part.Write(contents); err != nil {
		return UploadResult{}, err
	}
	fields := map[string]string{
		"api_key":   c.apiKey,
		"timestamp": ts,
		"folder":    c.folder,
		"signature": signature,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return UploadResult{}, err
		}
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, err
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/auto/upload", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, apperr.Upstream("UPLOAD_FAILED", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return UploadResult{}, apperr.Upstream("UPLOAD_FAILED",
			fmt.Errorf("cdn status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResult{}, apperr.Upstream("UPLOAD_FAILED", fmt.Errorf("decode cdn response: %w", err))
	}
	return out, nil
}

// Destroy removes an asset by public id. Missing assets are not an error;
// the CDN answers "not found" in a 200.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	signature := Sign(map[string]string{"public_id": publicID, "timestamp": ts}, c.apiSecret)

	form := fmt.Sprintf("public_id=%s&timestamp=%s&api_key=%s&signature=%s",
		publicID, ts, c.apiKey, signature)
	endpoint := fmt.Sprintf("%s/v1_1/%s/raw/destroy", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Upstream("DELETE_FAILED", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Upstream("DELETE_FAILED", fmt.Errorf("cdn status %d", resp.StatusCode))
	}
	return nil
}
