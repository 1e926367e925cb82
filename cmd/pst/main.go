package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pst",
		Short: "Postavshik: supplier marketplace client",
		Long: "Postavshik browses the supplier directory, manages purchase orders and offers,\n" +
			"and chats with counterparties over the live order channel.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "pst.yaml", "path to config file (optional)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newSuppliersCmd())
	cmd.AddCommand(newOrdersCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newDashboardCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pst %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
