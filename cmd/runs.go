package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/adamass/diligence-cli/internal/model"
	"github.com/adamass/diligence-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted reports",
	Long:  "Commands for listing and viewing synthesized reports.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List synthesized reports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		jobID, _ := cmd.Flags().GetString("job")
		limit, _ := cmd.Flags().GetInt("limit")

		records, err := st.ListReports(ctx, store.ReportFilter{JobID: jobID, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}

		formatReportList(os.Stdout, records)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show the latest report for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rec, err := st.GetReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if rec == nil {
			fmt.Fprintf(os.Stderr, "No report for job %s.\n", args[0])
			return nil
		}

		out, err := json.MarshalIndent(rec.Report, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal report")
		}
		fmt.Println(string(out))
		return nil
	},
}

func formatReportList(w io.Writer, records []model.ReportRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB\tVERDICT\tCREATED")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			rec.ID,
			rec.JobID,
			reportVerdict(&rec.Report),
			rec.CreatedAt.Format(time.RFC3339),
		)
	}
	tw.Flush()
}

// reportVerdict pulls the synthesis verdict out of a report for list output.
func reportVerdict(report *model.CompositeReport) string {
	switch report.AdamassSynthesisReport.State {
	case model.SectionFailed:
		return "error"
	case model.SectionAbsent:
		return "-"
	}
	var synth struct {
		OverallAssessment struct {
			Verdict string `json:"verdict"`
		} `json:"overall_assessment"`
	}
	if err := json.Unmarshal(report.AdamassSynthesisReport.Payload, &synth); err != nil {
		return "-"
	}
	return synth.OverallAssessment.Verdict
}

func init() {
	runsListCmd.Flags().String("job", "", "filter by job id")
	runsListCmd.Flags().Int("limit", 50, "maximum reports to list")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
