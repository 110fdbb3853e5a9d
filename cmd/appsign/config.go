package main

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/meigma/appsign"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect signing configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the config file and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.config == "" {
				return errors.New("--config is required")
			}
			cfg, err := appsign.LoadConfig(g.config)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				var merr *multierror.Error
				if errors.As(err, &merr) {
					for _, e := range merr.Errors {
						fmt.Fprintln(cmd.ErrOrStderr(), "-", e)
					}
				}
				return fmt.Errorf("%s is invalid", g.config)
			}
			for _, reviewer := range []bool{false, true} {
				ep, _ := cfg.Endpoint(reviewer)
				if ep.Active {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (timeout %s)\n", ep.Kind, ep.URL, ep.Timeout)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: inactive, archives are copied unsigned\n", ep.Kind)
				}
			}
			return nil
		},
	})
	return cmd
}
