package http_test

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	signhttp "github.com/meigma/appsign/http"
	"github.com/meigma/appsign/internal/testutil"
)

func TestClientSign(t *testing.T) {
	svc := testutil.NewSigningService(t, []byte("FAKESIG"))

	c := signhttp.NewClient(signhttp.WithHeader("X-Test", "yes"))
	sig, err := c.Sign(context.Background(), svc.URL+signhttp.SignPath, time.Second, []byte("Signature-Version: 1.0\n"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if string(sig) != "FAKESIG" {
		t.Fatalf("Sign() = %q, want %q", sig, "FAKESIG")
	}

	reqs := svc.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	got := reqs[0]
	if got.Path != signhttp.SignPath {
		t.Errorf("path = %q, want %q", got.Path, signhttp.SignPath)
	}
	if got.Field != signhttp.FileField {
		t.Errorf("field = %q, want %q", got.Field, signhttp.FileField)
	}
	if got.Filename != signhttp.SignatureFilename {
		t.Errorf("filename = %q, want %q", got.Filename, signhttp.SignatureFilename)
	}
	if string(got.Payload) != "Signature-Version: 1.0\n" {
		t.Errorf("payload = %q", got.Payload)
	}
}

func TestClientSignHeaders(t *testing.T) {
	var ua, custom string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ua = r.Header.Get("User-Agent")
		custom = r.Header.Get("X-Request-Source")
		fmt.Fprint(w, `{"zigbert.rsa": "U0lH"}`)
	}))
	t.Cleanup(server.Close)

	c := signhttp.NewClient(
		signhttp.WithUserAgent("marketplace/2.0"),
		signhttp.WithHeader("X-Request-Source", "worker"),
		signhttp.WithHTTPClient(server.Client()),
	)
	if _, err := c.Sign(context.Background(), server.URL, 0, []byte("sf")); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if ua != "marketplace/2.0" {
		t.Errorf("User-Agent = %q", ua)
	}
	if custom != "worker" {
		t.Errorf("X-Request-Source = %q", custom)
	}
}

func TestClientSignNon200(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	_, err := signhttp.NewClient().Sign(context.Background(), server.URL, time.Second, []byte("sf"))
	if !errors.Is(err, signhttp.ErrUnexpectedStatus) {
		t.Fatalf("Sign() error = %v, want ErrUnexpectedStatus", err)
	}
	if !strings.Contains(err.Error(), "Internal Server Error") {
		t.Fatalf("error %q does not carry the status text", err)
	}
}

func TestClientSignAcceptedIsNotSuccess(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusAccepted)
		fmt.Fprint(w, `{"zigbert.rsa": "U0lH"}`)
	}))
	t.Cleanup(server.Close)

	_, err := signhttp.NewClient().Sign(context.Background(), server.URL, time.Second, []byte("sf"))
	if !errors.Is(err, signhttp.ErrUnexpectedStatus) {
		t.Fatalf("Sign() error = %v, want ErrUnexpectedStatus", err)
	}
}

func TestClientSignMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>oops</html>"},
		{name: "missing field", body: `{"other": "U0lH"}`},
		{name: "not a string", body: `{"zigbert.rsa": 42}`},
		{name: "bad base64", body: `{"zigbert.rsa": "!!!not base64!!!"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			_, err := signhttp.NewClient().Sign(context.Background(), server.URL, time.Second, []byte("sf"))
			if !errors.Is(err, signhttp.ErrMalformedResponse) {
				t.Fatalf("Sign() error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestClientSignConnectionRefused(t *testing.T) {
	server := httptest.NewServer(nethttp.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := signhttp.NewClient().Sign(context.Background(), url, time.Second, []byte("sf"))
	if !errors.Is(err, signhttp.ErrRequest) {
		t.Fatalf("Sign() error = %v, want ErrRequest", err)
	}
}

func TestClientSignTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	start := time.Now()
	_, err := signhttp.NewClient().Sign(context.Background(), server.URL, 50*time.Millisecond, []byte("sf"))
	if !errors.Is(err, signhttp.ErrRequest) {
		t.Fatalf("Sign() error = %v, want ErrRequest", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Sign() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Sign() took %v, timeout not honored", elapsed)
	}
}
