// Package cmd wires the boxkv command line interface: data operations,
// procedure calls and SQL execution against a running server.
package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/boxKV/cmd/data"
	"github.com/ValentinKolb/boxKV/cmd/sql"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "boxkv",
		Short: "client for iproto key-value/SQL databases",
		Long: fmt.Sprintf(`boxKV (v%s)

A client for key-value/SQL databases speaking the MessagePack-framed
iproto protocol, multiplexing many concurrent requests over one socket.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of boxkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("boxKV v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(data.DataCommands)
	RootCmd.AddCommand(sql.SQLCommands)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
