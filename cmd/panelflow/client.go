package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/net/websocket"
)

var clientURL string

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Interactive websocket client for a running server",
	Long:  "Connect to a panelflow server and drive it from a REPL: execute sections, answer forms, and inspect raw traffic.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := websocket.Dial(clientURL, "", "http://localhost/")
		if err != nil {
			return fmt.Errorf("dial %s: %w", clientURL, err)
		}
		defer ws.Close()

		// Incoming frames print above the prompt.
		go func() {
			for {
				var raw []byte
				if err := websocket.Message.Receive(ws, &raw); err != nil {
					if err != io.EOF {
						fmt.Fprintf(os.Stderr, "receive: %v\n", err)
					}
					return
				}
				fmt.Printf("← %s\n", raw)
			}
		}()

		completer := readline.NewPrefixCompleter(
			readline.PcItem("exec"),
			readline.PcItem("submit"),
			readline.PcItem("sections"),
			readline.PcItem("stats"),
			readline.PcItem("raw"),
			readline.PcItem("quit"),
		)
		rl, err := readline.NewEx(&readline.Config{
			Prompt:       "panelflow> ",
			AutoComplete: completer,
		})
		if err != nil {
			return err
		}
		defer rl.Close()

		for {
			line, err := rl.Readline()
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			msg, done := buildMessage(line)
			if done {
				return nil
			}
			if msg == nil {
				continue
			}
			data, err := sonic.Marshal(msg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "encode: %v\n", err)
				continue
			}
			if err := websocket.Message.Send(ws, data); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	},
}

// buildMessage parses one REPL line into a protocol message. The second
// return is true when the session should end.
func buildMessage(line string) (map[string]any, bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "exit":
		return nil, true

	case "exec":
		if len(fields) < 2 {
			fmt.Println("usage: exec <section> [folder]")
			return nil, false
		}
		msg := map[string]any{
			"type":          "execute",
			"sectionRef":    fields[1],
			"correlationId": uuid.NewString(),
		}
		if len(fields) > 2 {
			msg["folderRef"] = fields[2]
		}
		return msg, false

	case "submit":
		data := map[string]any{}
		for _, kv := range fields[1:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 {
				data[parts[0]] = parts[1]
			}
		}
		return map[string]any{
			"type":          "form_submit",
			"data":          data,
			"correlationId": uuid.NewString(),
		}, false

	case "sections":
		return map[string]any{
			"type":          "list_sections",
			"correlationId": uuid.NewString(),
		}, false

	case "stats":
		return map[string]any{
			"type":          "cache_stats",
			"correlationId": uuid.NewString(),
		}, false

	case "raw":
		payload := strings.TrimSpace(strings.TrimPrefix(line, "raw"))
		var msg map[string]any
		if err := sonic.Unmarshal([]byte(payload), &msg); err != nil {
			fmt.Fprintf(os.Stderr, "raw: %v\n", err)
			return nil, false
		}
		return msg, false
	}

	fmt.Printf("unknown command %q\n", fields[0])
	return nil, false
}

func init() {
	clientCmd.Flags().StringVar(&clientURL, "url", "ws://localhost:8422/ws", "server websocket URL")
	rootCmd.AddCommand(clientCmd)
}
