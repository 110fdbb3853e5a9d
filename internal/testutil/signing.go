package testutil

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// SignRequest is a request recorded by SigningService.
type SignRequest struct {
	Path     string
	Field    string
	Filename string
	Payload  []byte
}

// SigningService is a fake remote signing service.
//
// By default it answers every request with 200 and the configured signature
// under "zigbert.rsa". SetHandler overrides the response; the request is still
// recorded before the handler runs.
type SigningService struct {
	*httptest.Server

	mu        sync.Mutex
	handler   http.HandlerFunc
	signature []byte
	requests  []SignRequest
}

// NewSigningService starts a fake signing service that returns signature.
// The server is closed when the test ends.
func NewSigningService(tb testing.TB, signature []byte) *SigningService {
	tb.Helper()

	s := &SigningService{signature: signature}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

// SetHandler replaces the default response.
func (s *SigningService) SetHandler(h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Requests returns a copy of the recorded requests.
func (s *SigningService) Requests() []SignRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SignRequest(nil), s.requests...)
}

func (s *SigningService) serve(w http.ResponseWriter, r *http.Request) {
	req := SignRequest{Path: r.URL.Path}
	if err := r.ParseMultipartForm(10 << 20); err == nil {
		for field, headers := range r.MultipartForm.File {
			req.Field = field
			req.Filename = headers[0].Filename
			if f, err := headers[0].Open(); err == nil {
				req.Payload, _ = io.ReadAll(f)
				f.Close()
			}
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"zigbert.rsa": base64.StdEncoding.EncodeToString(s.signature),
	})
}
