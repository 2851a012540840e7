package cmd

import (
	"fmt"
	"github.com/ValentinKolb/rkv/cmd/kv"
	"github.com/ValentinKolb/rkv/cmd/lock"
	"github.com/ValentinKolb/rkv/cmd/serve"
	"github.com/ValentinKolb/rkv/cmd/stats"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rkv",
		Short: "client for RESP key-value stores",
		Long: fmt.Sprintf(`rkv (v%s)

A client for key-value stores speaking the RESP protocol, with pooled
connections per master and replica, MULTI/EXEC transactions and
distributed locks.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rkv v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(stats.StatsCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
