package cmd

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/helcl42/PreVEngine/pkg/fsutil"
)

var cpCmd = &cobra.Command{
	Use:   "cp",
	Short: "Cross-platform implementation of the POSIX cp command",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return eris.New("Not enough parameters")
		}

		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		items, err := fsutil.ExpandArgs(args[:len(args)-1], false)
		if err != nil {
			return err
		}

		dest := filepath.Clean(args[len(args)-1])
		destInfo, err := os.Stat(dest)
		destIsDir := err == nil && destInfo.IsDir()
		if len(items) > 1 && !destIsDir {
			return eris.Errorf("Can't copy multiple items to %s because it is not a directory!", dest)
		}

		for _, item := range items {
			info, err := os.Stat(item)
			if err != nil {
				return eris.Wrapf(err, "Could not stat %s", item)
			}

			if info.IsDir() && !recursive {
				return eris.Errorf("%s is a directory but -r wasn't passed", item)
			}

			itemDest := dest
			if destIsDir {
				itemDest = filepath.Join(dest, filepath.Base(item))
			}

			err = fsutil.CheckDisjoint(item, itemDest)
			if err != nil {
				return err
			}

			err = fsutil.CopyTree(item, itemDest)
			if err != nil {
				return err
			}
		}

		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm",
	Short: "A cross-platform implementation of the POSIX rm command",
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		items, err := fsutil.ExpandArgs(args, force)
		if err != nil {
			return err
		}

		return fsutil.Remove(items, recursive, force)
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir",
	Short: "A cross-platform implementation of the POSIX mkdir command",
	RunE: func(cmd *cobra.Command, args []string) error {
		makeParents, err := cmd.Flags().GetBool("parents")
		if err != nil {
			return err
		}

		return fsutil.MakeDirs(args, makeParents)
	},
}

func init() {
	cpCmd.Flags().BoolP("recursive", "r", false, "copy directories recursively")
	rmCmd.Flags().BoolP("recursive", "r", false, "recursively delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")

	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
}
