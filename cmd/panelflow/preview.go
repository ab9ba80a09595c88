package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/panelflow/panelflow/pkg/rbac"
	"github.com/panelflow/panelflow/pkg/schema"
	"github.com/panelflow/panelflow/pkg/session"
	"github.com/panelflow/panelflow/pkg/stream"
)

var (
	previewRole string
	previewUser string
)

var (
	chunkStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	gateStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	denyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	fieldStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var previewCmd = &cobra.Command{
	Use:   "preview <file> <section>",
	Short: "Render a document section in the terminal",
	Long:  "Walk a section the way the server streams it, rendering markdown chunks and stopping descriptions at each gate. Commands are not executed.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, errs := schema.ValidateFile(args[0])
		if schema.HasErrors(errs) {
			for _, e := range errs {
				fmt.Fprintln(os.Stderr, e.Error())
			}
			return fmt.Errorf("%s is not valid", args[0])
		}

		var uc *session.UserContext
		if previewUser != "" {
			uc = session.Extract(&session.AuthState{
				ConnectionUser: previewUser,
				Role:           previewRole,
			})
		}

		checker := rbac.NewChecker(nil)
		seq, err := stream.NewSequence(doc, args[1], nil, checker, uc)
		if err != nil {
			return err
		}

		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			return err
		}

		for {
			chunk, err := seq.Next()
			if err != nil {
				return err
			}
			if chunk == nil {
				break
			}
			if chunk.Denial != nil {
				fmt.Println(denyStyle.Render("✗ " + chunk.Denial.Message))
				continue
			}

			content, keys, sides, err := seq.Render(chunk.Keys)
			if err != nil {
				return err
			}
			fmt.Println(chunkStyle.Render(fmt.Sprintf("── chunk %d ──", chunk.Num)))
			for _, se := range sides {
				fmt.Println(fieldStyle.Render(fmt.Sprintf("[%s] %v", se.Event, se.Payload)))
			}
			for _, key := range keys {
				printItem(renderer, key, content[key])
			}
			if chunk.IsGate {
				fmt.Println(gateStyle.Render(fmt.Sprintf("⏸ gate %q (%s)", chunk.Gate.Key, chunk.Gate.Kind)))
				if chunk.Gate.Kind == "form" {
					// A real run suspends here; preview keeps walking.
					fmt.Println(fieldStyle.Render("  (form submission skipped in preview)"))
				}
			}
		}
		fmt.Println(chunkStyle.Render("── end of section ──"))
		return nil
	},
}

func printItem(renderer *glamour.TermRenderer, key string, rendered any) {
	m, ok := rendered.(map[string]any)
	if !ok {
		fmt.Printf("%s: %v\n", key, rendered)
		return
	}
	switch m["kind"] {
	case "markdown":
		body, _ := m["body"].(string)
		out, err := renderer.Render(body)
		if err != nil {
			fmt.Println(body)
			return
		}
		fmt.Print(out)
	case "form":
		fields, _ := m["fields"].([]map[string]any)
		for _, f := range fields {
			fmt.Println(fieldStyle.Render(fmt.Sprintf("  %s (%v)", f["label"], f["type"])))
		}
	default:
		fmt.Println(fieldStyle.Render(fmt.Sprintf("  %s: %v", key, m)))
	}
}

func init() {
	previewCmd.Flags().StringVar(&previewRole, "role", "", "preview as this role")
	previewCmd.Flags().StringVar(&previewUser, "user", "", "preview as this user")
	rootCmd.AddCommand(previewCmd)
}
