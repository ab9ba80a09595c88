package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/panelflow/panelflow/pkg/schema"
)

var schemaOut string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the document JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		if schemaOut == "" || schemaOut == "-" {
			fmt.Println(string(data))
			return nil
		}
		return os.WriteFile(schemaOut, data, 0o644)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate document YAML files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			doc, errs := schema.ValidateFile(path)
			if schema.HasErrors(errs) {
				failed++
				for _, e := range errs {
					fmt.Fprintf(os.Stderr, "%s: %s\n", path, e.Error())
				}
				continue
			}
			for _, e := range errs {
				// Warnings only.
				fmt.Fprintf(os.Stderr, "%s: %s\n", path, e.Error())
			}
			fmt.Printf("✓ %s (%s, %d sections)\n", path, doc.Meta.Name, len(doc.Sections))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOut, "out", "o", "", "write schema to file instead of stdout")
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(validateCmd)
}
