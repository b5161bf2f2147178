package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/scoring"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/application"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/dataset"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/testutils"
)

func rankCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Rank the active vendors by weighted total",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd, func(ctx context.Context, s *session, r *renderer) error {
				ranking, err := s.engine.GetVendorRanking(ctx, s.evaluationID)
				if err != nil {
					return err
				}
				return r.ranking(ranking)
			})
		},
	}
}

func breakdownCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "breakdown VENDOR_ID",
		Short: "Show one vendor's per-category and per-criterion scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, s *session, r *renderer) error {
				result, err := s.engine.GetCategoryBreakdown(ctx, args[0])
				if err != nil {
					return err
				}
				return r.breakdown(result)
			})
		},
	}
}

func matrixCmd(opts *options) *cobra.Command {
	var (
		priorities []string
		rags       []string
		vendors    []string
		category   string
		unscored   bool
	)
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Print the requirement traceability matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filters := scoring.Filters{CategoryID: category, VendorIDs: vendors, UnscoredOnly: unscored}
			for _, p := range priorities {
				parsed, err := application.ParsePriority(p)
				if err != nil {
					return err
				}
				filters.Priorities = append(filters.Priorities, parsed)
			}
			for _, s := range rags {
				parsed, err := application.ParseRAG(s)
				if err != nil {
					return err
				}
				filters.RAG = append(filters.RAG, parsed)
			}
			return opts.withSession(cmd, func(ctx context.Context, s *session, r *renderer) error {
				m, err := s.engine.GetTraceabilityMatrix(ctx, s.evaluationID, filters)
				if err != nil {
					return err
				}
				return r.matrix(m)
			})
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&priorities, "priority", nil, "Only requirements of these priorities")
	f.StringSliceVar(&rags, "rag", nil, "Only cells with these RAG statuses (green, amber, red, none)")
	f.StringSliceVar(&vendors, "vendor", nil, "Only these vendors")
	f.StringVar(&category, "category", "", "Only requirements linked to this category")
	f.BoolVar(&unscored, "unscored", false, "Only unscored cells")
	return cmd
}

func varianceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "variance CRITERION_ID",
		Short: "Show evaluator variance of one criterion per vendor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, s *session, r *renderer) error {
				results, err := s.engine.GetVariance(ctx, s.evaluationID, args[0])
				if err != nil {
					return err
				}
				return r.variance(results)
			})
		},
	}
}

func anomaliesCmd(opts *options) *cobra.Command {
	var (
		dimensions  []string
		statuses    []string
		minSeverity string
		vendor      string
	)
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Detect price, schedule and score outliers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filters := application.AnomalyFilters{VendorID: vendor}
			for _, d := range dimensions {
				parsed, err := application.ParseDimension(d)
				if err != nil {
					return err
				}
				filters.Dimensions = append(filters.Dimensions, parsed)
			}
			for _, s := range statuses {
				parsed, err := application.ParseAnomalyStatus(s)
				if err != nil {
					return err
				}
				filters.Statuses = append(filters.Statuses, parsed)
			}
			if minSeverity != "" {
				parsed, err := application.ParseSeverity(minSeverity)
				if err != nil {
					return err
				}
				filters.MinSeverity = parsed
			}
			return opts.withSession(cmd, func(ctx context.Context, s *session, r *renderer) error {
				report, err := s.engine.GetAnomalies(ctx, s.evaluationID, filters)
				if err != nil {
					return err
				}
				return r.anomalies(report)
			})
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&dimensions, "dimension", nil, "Only these dimensions (price, schedule, score)")
	f.StringSliceVar(&statuses, "status", nil, "Only anomalies in these review statuses")
	f.StringVar(&minSeverity, "min-severity", "", "Minimum severity (info, warning, critical)")
	f.StringVar(&vendor, "vendor", "", "Only this vendor")
	return cmd
}

func sweepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Open reconciliations and apply deadline fallbacks",
		Long: `sweep flags every vendor and criterion pair whose evaluator variance
reaches the threshold, then applies the configured deadline fallback to
reconciliations past their deadline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd, func(ctx context.Context, s *session, r *renderer) error {
				opened, err := s.engine.FlagVariance(ctx, s.evaluationID)
				if err != nil {
					return err
				}
				actions, err := s.engine.SweepDeadlines(ctx, s.evaluationID)
				if err != nil {
					return err
				}
				return r.sweep(opened, actions)
			})
		},
	}
}

func sampleCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write a sample evaluation dataset",
		Long: `sample writes a synthetic four-vendor evaluation with scores for two
vendors, price quotes for all four and schedule estimates for two. It is
meant for trying the other commands, not for real evaluations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds := testutils.PriceOutlier()
			ds.Metadata.Name = "sample-erp-evaluation"
			ds.Metadata.Description = "Synthetic ERP replacement evaluation for trying scoringctl."
			ds.Scores = testutils.DisputedSSO().Scores
			if err := dataset.Validate(ds); err != nil {
				return err
			}
			if err := dataset.Save(ds, output); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Sample dataset written to %s (%d vendors, %d scores)\n",
				output, len(ds.Vendors), len(ds.Scores))
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "testdata/sample_evaluation.yaml", "Output file path")
	return cmd
}
