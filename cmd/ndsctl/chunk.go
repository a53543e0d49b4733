package main

import (
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/buckyos/nds/chunking"
)

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Inspect and populate a manager's chunk store",
}

var chunkPutCmd = &cobra.Command{
	Use:   "put <local-file>",
	Short: "Hash a local file and write it into the manager's primary store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		fs := afero.NewOsFs()
		f, err := fs.Open(args[0])
		if err != nil {
			return err
		}
		id, _, err := chunking.CalcFromReader(chunking.SHA256, f)
		f.Close()
		if err != nil {
			return err
		}

		have, err := mgr.HaveChunk(id)
		if err != nil {
			return err
		}
		if have {
			cmd.Println(id.String())
			return nil
		}

		src, err := fs.Open(args[0])
		if err != nil {
			return err
		}
		defer src.Close()
		if err := mgr.OpenChunkWriter(id); err != nil {
			return err
		}
		buf := make([]byte, 64*1024)
		var offset int64
		for {
			n, readErr := src.Read(buf)
			if n > 0 {
				if err := mgr.UpdateChunkProgress(id, buf[:n], offset); err != nil {
					return err
				}
				offset += int64(n)
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				return readErr
			}
		}
		if _, err := mgr.CompleteChunkWriter(id); err != nil {
			return err
		}
		cmd.Println(id.String())
		return nil
	},
}

var chunkGetCmd = &cobra.Command{
	Use:   "get <chunk-id>",
	Short: "Stream a chunk's bytes to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		id, err := chunking.ParseChunkId(args[0])
		if err != nil {
			return err
		}
		r, _, err := mgr.OpenChunkReader(id, 0, true)
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(cmd.OutOrStdout(), r)
		return err
	},
}

var chunkHasCmd = &cobra.Command{
	Use:   "has <chunk-id>",
	Short: "Report whether a chunk is complete in any configured tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := currentManager()
		if err != nil {
			return err
		}
		id, err := chunking.ParseChunkId(args[0])
		if err != nil {
			return err
		}
		have, err := mgr.HaveChunk(id)
		if err != nil {
			return err
		}
		cmd.Println(have)
		return nil
	},
}

func init() {
	chunkCmd.AddCommand(chunkPutCmd, chunkGetCmd, chunkHasCmd)
}
