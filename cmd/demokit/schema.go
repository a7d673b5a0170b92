package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/demokit/pkg/kernel/replay"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export JSON Schema to stdout",
}

var schemaRunbookCmd = &cobra.Command{
	Use:   "runbook",
	Short: "Export demokit/v1 runbook JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateRunbookJSONSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var schemaScenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Export replay scenario JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := replay.GenerateScenarioJSONSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaRunbookCmd)
	schemaCmd.AddCommand(schemaScenarioCmd)
}
