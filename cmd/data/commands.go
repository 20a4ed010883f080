package data

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/boxKV/protocol"
	"github.com/spf13/cobra"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Round-trips an empty request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := boxClient.Ping(); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}

	selectCmd = &cobra.Command{
		Use:   "select [space] [index] [key]",
		Short: "Selects tuples matching a key, e.g. select accounts pk '[1]'",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseTuple(args[2])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetUint32("limit")
			rows, err := boxClient.Sync().Select(args[0], args[1], key, 0, limit, protocol.IterEq)
			if err != nil {
				return err
			}
			return printRows(rows)
		},
	}

	insertCmd = &cobra.Command{
		Use:   "insert [space] [tuple]",
		Short: "Inserts a tuple, e.g. insert accounts '[1, \"alice\", 100]'",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tuple, err := parseTuple(args[1])
			if err != nil {
				return err
			}
			rows, err := boxClient.Sync().Insert(args[0], tuple)
			if err != nil {
				return err
			}
			return printRows(rows)
		},
	}

	replaceCmd = &cobra.Command{
		Use:   "replace [space] [tuple]",
		Short: "Inserts or overwrites a tuple",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tuple, err := parseTuple(args[1])
			if err != nil {
				return err
			}
			rows, err := boxClient.Sync().Replace(args[0], tuple)
			if err != nil {
				return err
			}
			return printRows(rows)
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [space] [key]",
		Short: "Deletes the tuple matching a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseTuple(args[1])
			if err != nil {
				return err
			}
			rows, err := boxClient.Sync().Delete(args[0], key)
			if err != nil {
				return err
			}
			return printRows(rows)
		},
	}

	callCmd = &cobra.Command{
		Use:   "call [function] [args]",
		Short: "Calls a stored function, e.g. call box.info '[]'",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := optionalTuple(args, 1)
			if err != nil {
				return err
			}
			rows, err := boxClient.Sync().Call(args[0], callArgs...)
			if err != nil {
				return err
			}
			return printRows(rows)
		},
	}

	evalCmd = &cobra.Command{
		Use:   "eval [expression] [args]",
		Short: "Evaluates a server-side expression",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			evalArgs, err := optionalTuple(args, 1)
			if err != nil {
				return err
			}
			rows, err := boxClient.Sync().Eval(args[0], evalArgs...)
			if err != nil {
				return err
			}
			return printRows(rows)
		},
	}
)

func init() {
	selectCmd.Flags().Uint32("limit", 100, "Maximum number of tuples to fetch")
}

// parseTuple decodes a JSON array argument
func parseTuple(arg string) ([]interface{}, error) {
	var tuple []interface{}
	if err := json.Unmarshal([]byte(arg), &tuple); err != nil {
		return nil, fmt.Errorf("argument must be a JSON array: %w", err)
	}
	return tuple, nil
}

func optionalTuple(args []string, position int) ([]interface{}, error) {
	if len(args) <= position {
		return nil, nil
	}
	return parseTuple(args[position])
}

// printRows renders a result as JSON lines
func printRows(rows []interface{}) error {
	for _, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	}
	return nil
}
