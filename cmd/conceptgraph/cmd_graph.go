package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oceanbase/conceptgraph-go/pkg/core"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

func (a *app) learnCmd() *cobra.Command {
	var hint, source string
	cmd := &cobra.Command{
		Use:   "learn [statement]",
		Short: "Learn a statement into the graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item := core.NewLearnItem(joinArgs(args), core.WithRelationHint(hint), core.WithSource(source))
			return a.withAdapter(cmd.Context(), func(ad storage.Adapter) error {
				res, err := ad.Learn(cmd.Context(), item)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					state := "merged"
					if res.WasNew {
						state = "created"
					}
					fmt.Fprintf(w, "%s %s\n", state, res.ConceptID)
					for _, warn := range res.Warnings {
						fmt.Fprintf(w, "warning: %v\n", warn)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&hint, "hint", "", "Concept the statement is a kind of")
	cmd.Flags().StringVar(&source, "source", "", "Where the statement came from")
	return cmd
}

func (a *app) askCmd() *cobra.Command {
	var maxPaths, maxDepth int
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question with ranked reasoning paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdapter(cmd.Context(), func(ad storage.Adapter) error {
				paths, err := ad.Ask(cmd.Context(), joinArgs(args), maxPaths, maxDepth)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), paths, func(w io.Writer) {
					if len(paths) == 0 {
						fmt.Fprintln(w, "no reasoning paths found")
						return
					}
					for i, p := range paths {
						fmt.Fprintf(w, "%d. [%.3f] %s\n", i+1, p.Confidence, p.Explanation)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&maxPaths, "max-paths", 0, "Maximum number of paths (0 uses the configured default)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum steps per path (0 uses the configured default)")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "List the concepts most relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdapter(cmd.Context(), func(ad storage.Adapter) error {
				scored, err := ad.SearchConcepts(cmd.Context(), joinArgs(args), limit)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), scored, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SCORE\tID\tCONTENT")
					for _, sc := range scored {
						fmt.Fprintf(tw, "%.3f\t%s\t%s\n", sc.Score, sc.Concept.ID, sc.Concept.Content)
					}
					_ = tw.Flush()
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of concepts")
	return cmd
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report graph size and server state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withAdapter(cmd.Context(), func(ad storage.Adapter) error {
				h, err := ad.Health(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), h, func(w io.Writer) {
					fmt.Fprintf(w, "status:       %s\n", h.Status)
					fmt.Fprintf(w, "version:      %s\n", h.Version)
					fmt.Fprintf(w, "concepts:     %d\n", h.Concepts)
					fmt.Fprintf(w, "associations: %d\n", h.Associations)
					fmt.Fprintf(w, "uptime:       %s\n", h.Uptime.Round(time.Second))
				})
			})
		},
	}
}

type maintenanceReport struct {
	Decayed int      `json:"decayed"`
	Pruned  []string `json:"pruned"`
}

func (a *app) maintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Decay concept strengths and prune forgotten concepts",
		Long: `maintain applies forgetting-curve decay to every concept and removes
unreferenced concepts whose strength fell below the prune threshold.
It works on the local graph and needs persistence to have a lasting effect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Mode == core.ModeRemote {
				return errors.New("maintain runs against a local graph only")
			}
			return a.withClient(cmd.Context(), func(client *core.Client) error {
				decayed, pruned, err := client.Maintain(cmd.Context())
				if err != nil {
					return err
				}
				report := maintenanceReport{Decayed: decayed, Pruned: pruned}
				return a.print(cmd.OutOrStdout(), report, func(w io.Writer) {
					fmt.Fprintf(w, "decayed %d concepts, pruned %d\n", decayed, len(pruned))
					for _, id := range pruned {
						fmt.Fprintf(w, "  %s\n", id)
					}
				})
			})
		},
	}
}
