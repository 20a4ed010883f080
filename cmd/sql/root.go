// Package sql implements the boxkv sql command group
package sql

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/boxKV/client"
	"github.com/ValentinKolb/boxKV/cmd/util"
	"github.com/spf13/cobra"
)

var (
	boxClient *client.Client
	closeFunc func()

	// SQLCommands represents the sql command group
	SQLCommands = &cobra.Command{
		Use:               "sql",
		Short:             "Execute SQL statements against a server",
		PersistentPreRunE: setupClient,
		PersistentPostRun: teardownClient,
	}

	queryCmd = &cobra.Command{
		Use:   "query [statement]",
		Short: "Runs a query and prints its named rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := boxClient.SQLQuery(args[0])
			if err != nil {
				return err
			}
			for _, row := range rows {
				encoded, err := json.Marshal(row)
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
			}
			return nil
		},
	}

	execCmd = &cobra.Command{
		Use:   "exec [statement]",
		Short: "Runs a data-modifying statement and prints the row count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := boxClient.SQLUpdate(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d row(s) affected\n", count)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)
	util.SetupClientFlags(SQLCommands)

	SQLCommands.AddCommand(queryCmd)
	SQLCommands.AddCommand(execCmd)
}

func setupClient(cmd *cobra.Command, _ []string) error {
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
