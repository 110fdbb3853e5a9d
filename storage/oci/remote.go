package oci

import (
	"context"
	"fmt"
	"net/http"

	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// RemoteOption configures the repository built by NewRemote.
type RemoteOption func(*remoteConfig)

type remoteConfig struct {
	plainHTTP bool
	anonymous bool
	userAgent string
}

// WithPlainHTTP talks to the registry over HTTP instead of HTTPS.
func WithPlainHTTP(plain bool) RemoteOption {
	return func(c *remoteConfig) {
		c.plainHTTP = plain
	}
}

// WithAnonymous skips the Docker credential store.
func WithAnonymous(anonymous bool) RemoteOption {
	return func(c *remoteConfig) {
		c.anonymous = anonymous
	}
}

// WithUserAgent sets the User-Agent sent to the registry.
func WithUserAgent(ua string) RemoteOption {
	return func(c *remoteConfig) {
		c.userAgent = ua
	}
}

// NewRemote creates a Storage on the repository ref (for example
// "registry.example.com/apps/signed"). Credentials come from the Docker
// config unless WithAnonymous is set.
func NewRemote(ref string, ropts []RemoteOption, opts ...Option) (*Storage, error) {
	cfg := remoteConfig{userAgent: "appsign/1.0"}
	for _, opt := range ropts {
		opt(&cfg)
	}

	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("parse repository %q: %w", ref, err)
	}
	repo.PlainHTTP = cfg.plainHTTP

	client := &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Header: http.Header{"User-Agent": []string{cfg.userAgent}},
	}
	if !cfg.anonymous {
		store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
		if err != nil {
			return nil, fmt.Errorf("load registry credentials: %w", err)
		}
		client.Credential = credentials.Credential(store)
	} else {
		client.Credential = func(context.Context, string) (auth.Credential, error) {
			return auth.EmptyCredential, nil
		}
	}
	repo.Client = client
	return New(repo, opts...)
}
