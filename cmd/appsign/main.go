// Command appsign signs packaged apps through a remote signing service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/appsign"
	"github.com/meigma/appsign/storage"
	"github.com/meigma/appsign/storage/local"
	"github.com/meigma/appsign/storage/oci"
	"github.com/meigma/appsign/storage/s3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "appsign:", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	logLevel  string
	logFormat string
	config    string
}

type storageFlags struct {
	root        string
	s3Bucket    string
	s3Prefix    string
	s3PathStyle bool
	ociRepo     string
	ociPlain    bool
	tempDir     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "appsign",
		Short:         "Sign packaged apps",
		Long:          "Sign packaged apps through a remote signing service, or copy them unsigned when no service is active.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "text", "log format (text, json)")
	pf.StringVar(&g.config, "config", "", "path to the signing config file; without one no endpoint is active")

	cmd.AddCommand(newSignCmd(g), newWorkerCmd(g), newConfigCmd(g))
	return cmd
}

// logger builds the slog logger selected by the global flags.
func (g *globalFlags) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", g.logLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(g.logFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", g.logFormat)
	}
}

// loadConfig reads and validates the config file. No file means every
// endpoint is inactive.
func (g *globalFlags) loadConfig() (appsign.Config, error) {
	if g.config == "" {
		return appsign.Config{}, nil
	}
	cfg, err := appsign.LoadConfig(g.config)
	if err != nil {
		return appsign.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return appsign.Config{}, err
	}
	return cfg, nil
}

func addStorageFlags(cmd *cobra.Command, sf *storageFlags) {
	f := cmd.Flags()
	f.StringVar(&sf.root, "root", ".", "directory that storage paths are relative to")
	f.StringVar(&sf.s3Bucket, "s3-bucket", "", "store archives in this S3 bucket instead of --root")
	f.StringVar(&sf.s3Prefix, "s3-prefix", "", "key prefix inside --s3-bucket")
	f.BoolVar(&sf.s3PathStyle, "s3-path-style", false, "use path-style S3 addressing")
	f.StringVar(&sf.ociRepo, "oci-repo", "", "store archives as artifacts in this OCI repository instead of --root")
	f.BoolVar(&sf.ociPlain, "oci-plain-http", false, "talk to the OCI registry over plain HTTP")
	f.StringVar(&sf.tempDir, "temp-dir", "", "directory for temporary files (default: system temp dir)")
}

func (sf *storageFlags) open(ctx context.Context) (storage.Storage, error) {
	if sf.s3Bucket != "" && sf.ociRepo != "" {
		return nil, errors.New("--s3-bucket and --oci-repo are mutually exclusive")
	}
	if sf.ociRepo != "" {
		return oci.NewRemote(sf.ociRepo,
			[]oci.RemoteOption{oci.WithPlainHTTP(sf.ociPlain)},
			oci.WithTempDir(sf.tempDir),
		)
	}
	if sf.s3Bucket != "" {
		return s3.NewFromEnv(ctx, sf.s3Bucket, sf.s3PathStyle,
			s3.WithPrefix(sf.s3Prefix),
			s3.WithTempDir(sf.tempDir),
		)
	}
	return local.New(sf.root)
}

// newSigner wires a Signer from the global and storage flags.
func newSigner(ctx context.Context, g *globalFlags, sf *storageFlags, logger *slog.Logger, opts ...appsign.Option) (*appsign.Signer, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := sf.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	opts = append([]appsign.Option{
		appsign.WithStorage(st),
		appsign.WithLogger(logger),
		appsign.WithTempDir(sf.tempDir),
	}, opts...)
	return appsign.NewSigner(cfg, opts...)
}
