// Package http provides the client for the remote app signing service.
//
// The service accepts a multipart POST with the signature file and answers
// with a JSON object holding the base64-encoded PKCS#7 signature.
package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"time"
)

// Wire constants of the signing service.
const (
	// SignPath is appended to the configured server URL.
	SignPath = "/1.0/sign_app"

	// FileField is the multipart field name of the signature file.
	FileField = "file"

	// SignatureFilename is the filename sent with the signature file.
	SignatureFilename = "zigbert.sf"

	// SignatureField is the response key holding the base64 PKCS#7 blob.
	SignatureField = "zigbert.rsa"
)

// maxResponseBytes bounds the response body read from the service.
const maxResponseBytes = 1 << 20

// Sentinel errors returned by Sign.
var (
	// ErrRequest is returned when the request cannot be sent or the response
	// cannot be read, including timeouts.
	ErrRequest = errors.New("signing service: request failed")

	// ErrUnexpectedStatus is returned for any response status other than 200.
	ErrUnexpectedStatus = errors.New("signing service: unexpected status")

	// ErrMalformedResponse is returned when the response body does not carry
	// a decodable signature.
	ErrMalformedResponse = errors.New("signing service: malformed response")
)

// Client submits signature files to a signing endpoint.
type Client struct {
	client    *nethttp.Client
	headers   nethttp.Header
	userAgent string
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		client:    nethttp.DefaultClient,
		userAgent: "appsign/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = nethttp.DefaultClient
	}
	return c
}

// Sign posts the signature file sf to endpoint and returns the decoded
// PKCS#7 signature.
//
// The whole exchange is bounded by timeout; zero means no limit beyond ctx.
// No retries are attempted.
func (c *Client) Sign(ctx context.Context, endpoint string, timeout time.Duration, sf []byte) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, contentType, err := multipartBody(sf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrRequest, err)
	}
	return decodeSignature(data)
}

func multipartBody(sf []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(FileField, SignatureFilename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(sf); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func decodeSignature(data []byte) ([]byte, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	raw, ok := payload[SignatureField]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedResponse, SignatureField)
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("%w: %q is not a string", ErrMalformedResponse, SignatureField)
	}
	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %q: %w", ErrMalformedResponse, SignatureField, err)
	}
	return sig, nil
}
