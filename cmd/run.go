package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runOutput string

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Synthesize the report for a single job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		jobID := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Pipeline.RunToJSON(ctx, jobID)
		if err != nil {
			return eris.Wrapf(err, "run job %s", jobID)
		}

		if runOutput != "" {
			if err := os.WriteFile(runOutput, out, 0o644); err != nil {
				return eris.Wrap(err, "write report file")
			}
			fmt.Fprintf(os.Stderr, "Report written to %s\n", runOutput)
			return nil
		}

		fmt.Println(string(out))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write the report JSON to a file instead of stdout")
	rootCmd.AddCommand(runCmd)
}
