package main

import (
	"fmt"
	"os"

	"autopinner/internal/config"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "autopinnerd",
		Short:         "Content automation daemon for WordPress and Pinterest",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(initDBCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(runTaskCmd())
	return root
}
