package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docpilot",
	Short: "Document question answering over your own files",
	Long: `Docpilot ingests uploaded documents into a searchable chunk index and
answers questions against it, falling back to live web search when the
documents are not enough.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
