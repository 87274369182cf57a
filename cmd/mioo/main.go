// Mioo is a contextual cat-girl companion for Telegram group chats.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mioo",
	Short: "Mioo, a contextual cat-girl companion for Telegram group chats.",
	Long: `Mioo watches group conversations and occasionally joins in, keeping a bounded
per-conversation memory so her replies fit the ongoing discussion. She also
renders Markdown to shareable images and fetches video links on request.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
