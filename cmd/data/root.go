// Package data implements the boxkv data command group: tuple operations,
// procedure calls and expression evaluation
package data

import (
	"github.com/ValentinKolb/boxKV/client"
	"github.com/ValentinKolb/boxKV/cmd/util"
	"github.com/spf13/cobra"
)

var (
	boxClient *client.Client
	closeFunc func()

	// DataCommands represents the data command group
	DataCommands = &cobra.Command{
		Use:               "data",
		Short:             "Perform data operations against a server",
		PersistentPreRunE: setupClient,
		PersistentPostRun: teardownClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common connection flags to the data command
	util.SetupClientFlags(DataCommands)

	// Add subcommands
	DataCommands.AddCommand(pingCmd)
	DataCommands.AddCommand(selectCmd)
	DataCommands.AddCommand(insertCmd)
	DataCommands.AddCommand(replaceCmd)
	DataCommands.AddCommand(deleteCmd)
	DataCommands.AddCommand(callCmd)
	DataCommands.AddCommand(evalCmd)
}

// setupClient connects to the configured endpoints
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	c, cleanup, err := util.NewClient()
	if err != nil {
		return err
	}
	boxClient = c
	closeFunc = cleanup
	return nil
}

func teardownClient(_ *cobra.Command, _ []string) {
	if closeFunc != nil {
		closeFunc()
	}
}
