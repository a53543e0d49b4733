package main

import (
	"github.com/spf13/cobra"
)

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Bind, resolve, and remove path -> obj id mappings",
}

var pathAppID, pathUserID string

var pathCreateCmd = &cobra.Command{
	Use:   "create <path> <obj-id>",
	Short: "Bind path to obj-id, incrementing its reference count",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		return mgr.CreateFile(args[0], args[1], pathAppID, pathUserID)
	},
}

var pathSetCmd = &cobra.Command{
	Use:   "set <path> <new-obj-id>",
	Short: "Rebind path to new-obj-id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		return mgr.SetFile(args[0], args[1], pathAppID, pathUserID)
	},
}

var pathRmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove path's binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		return mgr.RemoveFile(args[0])
	},
}

var pathRmDirCmd = &cobra.Command{
	Use:   "rmdir <prefix>",
	Short: "Remove every binding under prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		return mgr.RemoveDir(args[0])
	},
}

var pathGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Resolve path's exact binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		objID, err := mgr.GetObjIdByPath(args[0])
		if err != nil {
			return err
		}
		cmd.Println(objID)
		return nil
	},
}

var pathSelectCmd = &cobra.Command{
	Use:   "select <path>",
	Short: "Resolve the longest bound prefix of path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		res, err := mgr.SelectObjIdByPath(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("obj_id=%s remainder=%q\n", res.ObjID, res.Remainder)
		return nil
	},
}

var pathRefCountCmd = &cobra.Command{
	Use:   "refcount <obj-id>",
	Short: "Print obj-id's current reference count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		n, err := mgr.RefCount(args[0])
		if err != nil {
			return err
		}
		cmd.Println(n)
		return nil
	},
}

var pathSignCmd = &cobra.Command{
	Use:   "sign <path> <signed-jwt>",
	Short: "Attach a signed JWT to an existing path binding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		return mgr.SignPathObj(args[0], args[1])
	},
}

func init() {
	for _, c := range []*cobra.Command{pathCreateCmd, pathSetCmd} {
		c.Flags().StringVar(&pathAppID, "app-id", "", "app id recorded against this binding")
		c.Flags().StringVar(&pathUserID, "user-id", "", "user id recorded against this binding")
	}
	pathCmd.AddCommand(pathCreateCmd, pathSetCmd, pathRmCmd, pathRmDirCmd, pathGetCmd, pathSelectCmd, pathRefCountCmd, pathSignCmd)
}
