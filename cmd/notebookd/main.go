package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "notebookd",
	Short:         "Local notebooks over your documents: upload, index, and ask grounded questions",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	godotenv.Load()

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(notebookCmd, uploadCmd, sourcesCmd, askCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
