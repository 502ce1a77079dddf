package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelflow/internal/config"
	"reelflow/internal/devserver"
)

func newDevServerCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var stateDir string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local simulated pipeline backend",
		Long: "Serve the pipeline API from a local SQLite store. Stages and per-shot\n" +
			"jobs are simulated with placeholder media so the client can be exercised\n" +
			"without the production backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			opts := devserver.OptionsFromConfig(cfg, logger)
			if dir := strings.TrimSpace(stateDir); dir != "" {
				expanded, err := config.ExpandPath(dir)
				if err != nil {
					return fmt.Errorf("resolve state dir: %w", err)
				}
				opts.StateDir = expanded
			}
			addr := strings.TrimSpace(bind)
			if addr == "" {
				addr = cfg.DevServer.Bind
			}

			srv, err := devserver.New(opts)
			if err != nil {
				return err
			}
			defer srv.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Dev server listening on http://%s (state %s)\n", addr, opts.StateDir)
			err = srv.ListenAndServe(cmd.Context(), addr)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides devserver.bind)")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "State directory (overrides paths.state_dir)")
	return cmd
}
