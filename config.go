package appsign

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	signhttp "github.com/meigma/appsign/http"
)

// DefaultTimeout bounds a signing request when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Endpoint kinds, used in logs and metrics.
const (
	KindPublic   = "public"
	KindReviewer = "reviewer"
)

// Endpoint configures one signing service.
type Endpoint struct {
	// Active enables remote signing. When false, archives are copied unsigned.
	Active bool `yaml:"active"`

	// Server is the base URL of the signing service.
	Server string `yaml:"server"`

	// Timeout overrides Config.Timeout for this endpoint when non-zero.
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds the signing deployment settings.
type Config struct {
	// Public signs builds for production distribution.
	Public Endpoint `yaml:"public"`

	// Reviewer signs builds installable only by reviewers.
	Reviewer Endpoint `yaml:"reviewer"`

	// Timeout bounds each signing request. Zero uses DefaultTimeout.
	Timeout time.Duration `yaml:"timeout"`

	// OmitPerFileSignatures drops per-file sections from the signature file.
	OmitPerFileSignatures bool `yaml:"omit_per_file_signatures"`
}

// ResolvedEndpoint is the endpoint selected for one invocation.
type ResolvedEndpoint struct {
	Kind    string
	Active  bool
	URL     string
	Timeout time.Duration
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML config. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("%w: negative timeout %s", ErrConfiguration, c.Timeout))
	}
	for _, ep := range []struct {
		kind string
		e    Endpoint
	}{{KindPublic, c.Public}, {KindReviewer, c.Reviewer}} {
		if ep.e.Timeout < 0 {
			result = multierror.Append(result, fmt.Errorf("%w: negative %s timeout %s", ErrConfiguration, ep.kind, ep.e.Timeout))
		}
		if ep.e.Server == "" {
			if ep.e.Active {
				result = multierror.Append(result, emptyServerError(ep.kind))
			}
			continue
		}
		u, err := url.Parse(ep.e.Server)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("%w: %s server %q is not an http(s) URL", ErrConfiguration, ep.kind, ep.e.Server))
		}
	}
	return result.ErrorOrNil()
}

// Endpoint selects the reviewer or public endpoint.
//
// An inactive endpoint resolves with Active false and no error. An active
// endpoint without a server is a configuration error.
func (c Config) Endpoint(reviewer bool) (ResolvedEndpoint, error) {
	kind, ep := KindPublic, c.Public
	if reviewer {
		kind, ep = KindReviewer, c.Reviewer
	}

	resolved := ResolvedEndpoint{Kind: kind, Active: ep.Active}
	if !ep.Active {
		return resolved, nil
	}
	if ep.Server == "" {
		return ResolvedEndpoint{}, emptyServerError(kind)
	}

	resolved.URL = strings.TrimRight(ep.Server, "/") + signhttp.SignPath
	resolved.Timeout = ep.Timeout
	if resolved.Timeout == 0 {
		resolved.Timeout = c.Timeout
	}
	if resolved.Timeout == 0 {
		resolved.Timeout = DefaultTimeout
	}
	return resolved, nil
}

func emptyServerError(kind string) error {
	return fmt.Errorf("%w: the %s server setting is empty", ErrConfiguration, kind)
}
