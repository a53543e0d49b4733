package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/buckyos/nds/backup/storage"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect backup task state held in the backup task storage",
}

var backupZoneID, backupKey, backupDirPath string
var backupVersion int64

var backupCreateCmd = &cobra.Command{
	Use:   "create <file-path>...",
	Short: "Register a new backup task version for the given files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := make([]storage.UploadFile, len(args))
		for i, p := range args {
			files[i] = storage.UploadFile{FileSeq: i, FilePath: p}
		}
		taskID, err := backupStorage.CreateTaskWithFiles(
			storage.UploadTask{ZoneID: backupZoneID, Key: backupKey, Version: backupVersion, DirPath: backupDirPath},
			files,
		)
		if err != nil {
			return err
		}
		cmd.Println(taskID)
		return nil
	},
}

var backupListIncompleteCmd = &cobra.Command{
	Use:   "list-incomplete",
	Short: "List tasks not yet marked all-files-ready",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := backupStorage.GetIncompleteTasks(0, 1000)
		if err != nil {
			return err
		}
		return printJSON(cmd, tasks)
	},
}

var backupCheckpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List restorable checkpoint versions for zone/key",
	RunE: func(cmd *cobra.Command, args []string) error {
		versions, err := backupStorage.GetCheckPointVersionListInRange(storage.TaskKey{ZoneID: backupZoneID, Key: backupKey}, 0, 0, true)
		if err != nil {
			return err
		}
		return printJSON(cmd, versions)
	},
}

var backupTaskCmd = &cobra.Command{
	Use:   "task <task-id>",
	Short: "Print a task's current row, including its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := backupStorage.GetTask(args[0])
		if err != nil {
			return err
		}
		files, err := backupStorage.GetFiles(args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, struct {
			Task  storage.UploadTask   `json:"task"`
			Files []storage.UploadFile `json:"files"`
		}{task, files})
	},
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

func init() {
	backupCreateCmd.Flags().StringVar(&backupZoneID, "zone-id", "", "zone id")
	backupCreateCmd.Flags().StringVar(&backupKey, "key", "", "backup key")
	backupCreateCmd.Flags().Int64Var(&backupVersion, "version", 1, "backup version")
	backupCreateCmd.Flags().StringVar(&backupDirPath, "dir-path", "/", "source directory path")

	backupCheckpointsCmd.Flags().StringVar(&backupZoneID, "zone-id", "", "zone id")
	backupCheckpointsCmd.Flags().StringVar(&backupKey, "key", "", "backup key")

	backupCmd.AddCommand(backupCreateCmd, backupListIncompleteCmd, backupCheckpointsCmd, backupTaskCmd)
}
