package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listShared bool

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect and manage stored facts",
}

var factsListCmd = &cobra.Command{
	Use:   "list <person-id>",
	Short: "List a person's facts grouped by category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		facts, err := e.Service.List(cmd.Context(), args[0], listShared)
		if err != nil {
			return err
		}
		if len(facts) == 0 {
			fmt.Println("no facts stored")
			return nil
		}
		printFacts(facts)
		return nil
	},
}

var factsConfirmCmd = &cobra.Command{
	Use:   "confirm <fact-id>",
	Short: "Mark a fact as user-confirmed",
	Long:  "Confirmed facts are never modified or removed by later extraction runs.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Service.Confirm(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("confirmed %s\n", args[0])
		return nil
	},
}

var factsDeleteCmd = &cobra.Command{
	Use:   "delete <fact-id>",
	Short: "Delete a fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Service.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

func init() {
	factsListCmd.Flags().BoolVar(&listShared, "shared", false, "include facts shared via associations")
	factsCmd.AddCommand(factsListCmd, factsConfirmCmd, factsDeleteCmd)
	rootCmd.AddCommand(factsCmd)
}
