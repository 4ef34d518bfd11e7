package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/person-facts/internal/model"
)

var extractFile string

var extractCmd = &cobra.Command{
	Use:   "extract <person-id> <person-name>",
	Short: "Run the extraction pipeline for one person",
	Long:  "Reads the person's interactions from a YAML or JSON file, runs sampling, extraction, validation, and summary generation, and refreshes their stored facts.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		personID, personName := args[0], args[1]

		interactions, err := loadInteractions(extractFile)
		if err != nil {
			return err
		}

		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		stored, err := e.Service.ExtractFacts(cmd.Context(), personID, personName, interactions)
		if err != nil {
			return err
		}

		fmt.Printf("%d facts stored for %s\n\n", len(stored), personName)
		printFacts(stored)
		return nil
	},
}

// loadInteractions parses an interactions file. YAML is a superset of JSON,
// so one decoder covers both formats.
func loadInteractions(path string) ([]model.Interaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read interactions file %s", path)
	}

	var interactions []model.Interaction
	if err := yaml.Unmarshal(data, &interactions); err != nil {
		return nil, eris.Wrapf(err, "parse interactions file %s", path)
	}
	if len(interactions) == 0 {
		return nil, eris.Errorf("no interactions in %s", path)
	}
	return interactions, nil
}

func printFacts(facts []model.Fact) {
	var lastCategory model.Category
	for _, f := range facts {
		if f.Category != lastCategory {
			fmt.Printf("%s %s\n", f.Category.Icon(), f.Category)
			lastCategory = f.Category
		}
		marker := " "
		if f.ConfirmedByUser {
			marker = "✓"
		}
		fmt.Printf("  %s [%.2f] %s  (%s)\n", marker, f.Confidence, f.Value, f.ID)
	}
}

func init() {
	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "", "interactions file (YAML or JSON)")
	_ = extractCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(extractCmd)
}
