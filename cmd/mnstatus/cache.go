package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var errNoCache = errors.New("no cache configured; set registry.cache_path in the config file")

func cacheCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the cached node lists",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached node lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return errNoCache
			}

			snaps, err := a.db.Snapshots(cmd.Context())
			if err != nil {
				return fmt.Errorf("querying cache: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No cached node lists. Run 'mnstatus nids' first.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REGISTRY\tNODES\tFETCHED\tAGE")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					s.BaseURL,
					s.Nodes,
					s.FetchedAt.Local().Format("2006-01-02 15:04:05"),
					humanize.Time(s.FetchedAt),
				)
			}
			return w.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "purge [base_url]",
		Short: "Remove one cached node list, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return errNoCache
			}
			var baseURL string
			if len(args) == 1 {
				baseURL = args[0]
			}
			if err := a.db.Purge(cmd.Context(), baseURL); err != nil {
				return err
			}
			a.logger.Info("cache purged", "registry", baseURL)
			return nil
		},
	})
	return cmd
}
