// Package vk is a minimal VK API client covering what the publisher needs:
// community discovery, wall photo upload and wall posting.
package vk

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
	"strings"
	"time"

	"postbot/pkg/logx"
)

const (
	defaultAPIBase = "https://api.vk.com/method/"
	apiVersion     = "5.199"

	// errGroupAuth is returned by user-scoped methods when called with a
	// community token; callers fall back to group-scoped methods.
	errGroupAuth = 27
)

// APIError is the error envelope VK returns inside an HTTP 200 response.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk: error %d: %s", e.Code, e.Message)
}

// IsGroupAuth reports whether err is the "group authorization" API error.
func IsGroupAuth(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == errGroupAuth
}

type Config struct {
	Token string
	// APIBase overrides the API endpoint (tests only).
	APIBase string
}

type Client struct {
	token string
	base  string
	http  *http.Client
	log   logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("vk token is empty")
	}
	base := cfg.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		token: cfg.Token,
		base:  base,
		http:  &http.Client{Timeout: 30 * time.Second},
		log:   log,
	}, nil
}

// call invokes one API method and unwraps the response envelope.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.token)
	params.Set("v", apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+method,
		strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vk: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("vk: %s: read response: %w", method, err)
	}

	var envelope struct {
		Error    *APIError       `json:"error"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("vk: %s: bad response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("vk: %s: %w", method, envelope.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return fmt.Errorf("vk: %s: decode response: %w", method, err)
	}
	return nil
}

// upload POSTs a binary to a VK-issued upload URL (outside the API envelope).
func (c *Client) upload(ctx context.Context, uploadURL, field, filename string, data []byte, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vk: upload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("vk: upload: read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("vk: upload: bad response: %w", err)
	}
	return nil
}
