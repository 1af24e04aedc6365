package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ist-insights-go/internal/actionable"
	"ist-insights-go/internal/aggregator"
	"ist-insights-go/internal/dataset"
	"ist-insights-go/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	// logs go to stderr so stdout stays valid JSON
	newLog := func(cmd *cobra.Command) *logger.Logger {
		return logger.NewWithOptions(logger.Options{
			Environment: "local",
			Level:       logLevel,
			Output:      cmd.ErrOrStderr(),
		}).Component("istreport")
	}

	cmd := &cobra.Command{
		Use:           "istreport",
		Short:         "Offline IST class reports from event dumps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newReportCmd(newLog))
	cmd.AddCommand(newNormalizeCmd(newLog))
	return cmd
}

type reportOutput struct {
	Report  any                     `json:"report"`
	Actions []actionable.ActionCard `json:"actions,omitempty"`
}

func newReportCmd(newLog func(*cobra.Command) *logger.Logger) *cobra.Command {
	var (
		eventsPath   string
		courseID     string
		maxSkills    int
		gapThreshold float64
		summary      bool
		withActions  bool
		xlsxPath     string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Compute the class report for one course",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxSkills < 0 {
				return errors.New("--max-skills must be >= 0")
			}
			log := newLog(cmd).WithField("events", eventsPath).WithField("course_id", courseID)

			events, err := dataset.LoadEvents(eventsPath)
			if err != nil {
				return fmt.Errorf("load events: %w", err)
			}
			log.WithField("loaded", len(events)).Info("events loaded")

			report := aggregator.ComputeClassReport(events, courseID,
				aggregator.WithMaxSkills(maxSkills),
				aggregator.WithGapThreshold(gapThreshold),
			)

			if xlsxPath != "" {
				if err := dataset.ExportReport(report, xlsxPath); err != nil {
					return fmt.Errorf("export workbook: %w", err)
				}
				log.WithField("xlsx", xlsxPath).Info("workbook written")
			}

			out := reportOutput{Report: report}
			if summary {
				out.Report = report.Summary()
			}
			if withActions {
				out.Actions = actionable.Generate(report)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&eventsPath, "events", "", "events file (.json or .xlsx)")
	cmd.Flags().StringVar(&courseID, "course", "", "course id to report on")
	cmd.Flags().IntVar(&maxSkills, "max-skills", aggregator.DefaultMaxSkills, "number of top skills to list")
	cmd.Flags().Float64Var(&gapThreshold, "gap-threshold", aggregator.DefaultGapThreshold, "share below which a skill is a gap")
	cmd.Flags().BoolVar(&summary, "summary", false, "print the reduced summary")
	cmd.Flags().BoolVar(&withActions, "actions", false, "include action cards")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also write the report to this xlsx file")
	_ = cmd.MarkFlagRequired("events")
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

func newNormalizeCmd(newLog func(*cobra.Command) *logger.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize SKILL...",
		Short: "Print the normalized key for each skill label",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog(cmd)
			for _, raw := range args {
				key, ok := aggregator.NormalizeSkill(raw)
				if !ok {
					log.WithField("skill", raw).Warn("skipping invalid skill label")
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
