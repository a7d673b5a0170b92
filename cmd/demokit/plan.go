package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/demokit/pkg/diagram"
)

var planFormat string

var planCmd = &cobra.Command{
	Use:   "plan <runbook.yaml>",
	Short: "Show the steps of a runbook without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rb, err := loadRunbook(cmd.ErrOrStderr(), args[0])
		if err != nil {
			return err
		}
		out, err := diagram.Generate(rb, diagram.Format(planFormat))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planFormat, "format", string(diagram.FormatASCII), "Output format: ascii, mermaid")
}
