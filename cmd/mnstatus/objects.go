package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/datadavev/mnstatus/internal/listing"
	"github.com/datadavev/mnstatus/internal/probe"
	"github.com/datadavev/mnstatus/internal/report"
	"github.com/datadavev/mnstatus/internal/timeutil"
)

func objectsCmd(g *globals) *cobra.Command {
	var (
		source  string
		rawURL  string
		offset  int
		maxRecs int
		from    string
		to      string
	)
	cmd := &cobra.Command{
		Use:   "objects [identifier|base_url]",
		Short: "List objects from a node's or the coordinating node's listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := probe.ObjectQuery{
				URL:     rawURL,
				Source:  probe.Source(source),
				Offset:  offset,
				Max:     maxRecs,
				Refresh: g.refresh,
			}
			if len(args) == 1 {
				q.Node = args[0]
			}
			var err error
			if q.From, err = parseDate(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if q.To, err = parseDate(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			it, err := a.svc.Objects(cmd.Context(), q)
			if err != nil {
				return err
			}
			objects := []listing.ObjectInfo{}
			for it.Next(cmd.Context()) {
				objects = append(objects, it.Object())
			}
			if err := it.Err(); err != nil {
				return err
			}
			a.logger.Info("objects listed", "returned", len(objects), "total", it.Total(), "dropped", it.Dropped())

			if g.json {
				return report.WriteJSON(cmd.OutOrStdout(), objects)
			}
			return report.Objects(cmd.OutOrStdout(), objects, a.out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&source, "source", "mn", "listing to read: mn (the node) or cn (the coordinating node)")
	f.StringVar(&rawURL, "url", "", "read this listObjects URL instead of a registered node")
	f.IntVar(&offset, "offset", 0, "records to skip")
	f.IntVarP(&maxRecs, "max", "n", 100, "maximum records to list, 0 for all")
	f.StringVar(&from, "from", "", "only objects modified at or after this time")
	f.StringVar(&to, "to", "", "only objects modified before this time")
	return cmd
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return timeutil.Parse(v)
}
