package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dcache/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dcache",
		Short: "clustered replicated cache",
		Long: fmt.Sprintf(`dcache (v%s)

A clustered, replicated cache library written in Go. Its consistency core
decides per operation whether it may proceed under the current cluster
membership, whether it must be relayed to remote members, and how to react
when the cluster has split.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dcache",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dcache v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
