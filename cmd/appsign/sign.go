package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/meigma/appsign"
)

type signFlags struct {
	storageFlags
	src      string
	dest     string
	guid     string
	version  string
	reviewer bool
}

type signOutput struct {
	Path   string `json:"path"`
	Signed bool   `json:"signed"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

func newSignCmd(g *globalFlags) *cobra.Command {
	f := &signFlags{}
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign one archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := g.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			s, err := newSigner(cmd.Context(), g, &f.storageFlags, logger)
			if err != nil {
				return err
			}

			ids := appsign.PublicIdentity(f.guid, f.version)
			if f.reviewer {
				ids = appsign.ReviewerIdentity(f.guid, f.version)
			}
			res, err := s.SignApp(cmd.Context(), f.src, f.dest, ids, f.reviewer)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(signOutput{
				Path:   res.Path,
				Signed: res.Signed,
				Digest: res.Digest.String(),
				Size:   res.Size,
			})
		},
	}
	addStorageFlags(cmd, &f.storageFlags)
	cmd.Flags().StringVar(&f.src, "src", "", "source archive path")
	cmd.Flags().StringVar(&f.dest, "dest", "", "signed archive path")
	cmd.Flags().StringVar(&f.guid, "guid", "", "app GUID")
	cmd.Flags().StringVar(&f.version, "version", "", "app version")
	cmd.Flags().BoolVar(&f.reviewer, "reviewer", false, "sign with the reviewer endpoint")
	for _, name := range []string{"src", "dest", "guid", "version"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
