package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/buckyos/nds/chunking"
)

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Store and retrieve typed JSON objects",
}

var objectPutCmd = &cobra.Command{
	Use:   "put <obj-type>",
	Short: "Store a JSON body read from stdin under obj-type, printing the resulting obj id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		var body interface{}
		if err := json.Unmarshal(raw, &body); err != nil {
			return err
		}
		id, err := mgr.PutObject(args[0], body)
		if err != nil {
			return err
		}
		cmd.Println(id.String())
		return nil
	},
}

var objectPointer string

var objectGetCmd = &cobra.Command{
	Use:   "get <obj-id>",
	Short: "Print an object's JSON body, optionally descending into a /-separated pointer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		id, err := chunking.ParseObjId(args[0])
		if err != nil {
			return err
		}
		body, err := mgr.GetObject(id, objectPointer)
		if err != nil {
			return err
		}
		cmd.Println(string(body))
		return nil
	},
}

func init() {
	objectGetCmd.Flags().StringVar(&objectPointer, "pointer", "", "JSON pointer path into the object body")
	objectCmd.AddCommand(objectPutCmd, objectGetCmd)
}
