package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/probe"
	"github.com/datadavev/mnstatus/internal/registry"
	"github.com/datadavev/mnstatus/internal/report"
)

// nodeSummary is the JSON form of a node in the non-full listing.
type nodeSummary struct {
	ID      string                                   `json:"identifier"`
	Name    string                                   `json:"name"`
	State   string                                   `json:"state"`
	Type    string                                   `json:"type"`
	BaseURL string                                   `json:"baseURL"`
	Status  map[checker.Category]checker.CheckResult `json:"status,omitempty"`
}

func nidsCmd(g *globals) *cobra.Command {
	var (
		state string
		typ   string
		tests []string
		full  bool
	)
	cmd := &cobra.Command{
		Use:   "nids [base_url]",
		Short: "List registered nodes, optionally checking them first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := checker.ParseCategories(tests)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				g.registryURL = args[0]
			}
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			nodes, err := a.svc.Nodes(cmd.Context(), probe.NodeQuery{
				State:   state,
				Type:    typ,
				Tests:   cats,
				Refresh: g.refresh,
			})
			if err != nil {
				return fmt.Errorf("listing nodes: %w", err)
			}
			a.logger.Info("nodes listed", "nodes", len(nodes), "elapsed", time.Since(start))

			out := cmd.OutOrStdout()
			switch {
			case full:
				return report.WriteJSON(out, nodes)
			case g.json:
				return report.WriteJSON(out, summarize(nodes))
			default:
				return report.NodeList(out, nodes, cats, a.out)
			}
		},
	}
	cmd.Flags().StringVarP(&state, "state", "s", "", "only nodes in this state (up, down)")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "only nodes of this type (mn, cn)")
	cmd.Flags().StringSliceVarP(&tests, "test", "T", nil, "checks to run (ping, mn, cn, index)")
	cmd.Flags().BoolVarP(&full, "full", "F", false, "write full node records as JSON")
	return cmd
}

func summarize(nodes []registry.Node) []nodeSummary {
	out := make([]nodeSummary, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeSummary{
			ID:      n.ID,
			Name:    n.Name,
			State:   n.State,
			Type:    n.Type,
			BaseURL: n.BaseURL,
			Status:  n.Status,
		})
	}
	return out
}

func nodeCmd(g *globals) *cobra.Command {
	var tests []string
	cmd := &cobra.Command{
		Use:   "node <identifier|base_url>",
		Short: "Run checks against one node and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := checker.ParseCategories(tests)
			if err != nil {
				return err
			}
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.CheckNode(cmd.Context(), args[0], cats, g.refresh)
			if err != nil {
				return err
			}
			if g.json {
				return report.WriteJSON(cmd.OutOrStdout(), n)
			}
			return report.NodeStatus(cmd.OutOrStdout(), n, a.out)
		},
	}
	cmd.Flags().StringSliceVarP(&tests, "test", "T", nil, "checks to run (default all)")
	return cmd
}
