package main

import (
	"os"

	"github.com/spf13/cobra"

	"gestionale/internal/interfaces/cli/migrate"
	"gestionale/internal/interfaces/cli/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gestionale",
		Short: "Gestionale realtime notification service",
		Long:  `Realtime notification and presence distribution for the gestionale order management system.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
