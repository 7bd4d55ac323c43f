package cmd

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/helcl42/PreVEngine/pkg"
	"github.com/helcl42/PreVEngine/pkg/fetch"
)

const defaultDepsFile = "DEPS.yml"

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads and unpacks dependencies",
	Long: `Downloads and unpacks the dependencies listed in DEPS.yml. Without a DEPS.yml the
engine's dependency bundle is downloaded and extracted into --dest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		cfgPath, err := flags.GetString("config")
		if err != nil {
			return err
		}

		dest, err := flags.GetString("dest")
		if err != nil {
			return err
		}

		fileID, err := flags.GetString("file-id")
		if err != nil {
			return err
		}

		fetcher := &fetch.Fetcher{
			Endpoint:   appConfig.Fetch.Endpoint,
			Downloader: fetch.NewDownloader(appConfig.Fetch.Timeout, appConfig.Fetch.ChunkSize),
			Vars:       fetch.HostVars(),
		}

		if fetcher.Force, err = flags.GetBool("force"); err != nil {
			return err
		}
		if fetcher.Update, err = flags.GetBool("update"); err != nil {
			return err
		}
		if fetcher.Downloader.Quiet, err = flags.GetBool("quiet"); err != nil {
			return err
		}

		pkg.PrintTask("Loading config")
		if cfgPath == "" && !flags.Changed("file-id") {
			cfgPath = findDepsFile()
		}

		if cfgPath != "" {
			pkg.PrintSubtask("Using " + cfgPath)
			cfg, cfgData, err := fetch.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			fetcher.Config = cfg
			fetcher.ConfigPath = cfgPath
			fetcher.ConfigData = cfgData
			fetcher.StampPath = fetch.StampPath(cfgPath)
			fetcher.Root = filepath.Dir(cfgPath)
			if flags.Changed("dest") {
				fetcher.Root = dest
			}
		} else {
			if fileID == "" {
				return eris.New("--file-id must not be empty")
			}

			fetcher.Config = fetch.DefaultConfig(fileID)
			fetcher.Root = dest
			fetcher.StampPath = filepath.Join(dest, "Dependencies.stamps")

			err = os.MkdirAll(dest, 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create %s", dest)
			}
		}

		pkg.PrintTask("Downloading dependencies")
		err = fetcher.Run(commandContext(cmd))
		if err != nil {
			pkg.PrintError(err.Error())
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

// findDepsFile looks for DEPS.yml in the working directory and then at the project root.
func findDepsFile() string {
	if _, err := os.Stat(defaultDepsFile); err == nil {
		return defaultDepsFile
	}

	root, err := pkg.FindProjectRoot(".")
	if err != nil {
		return ""
	}

	cfgPath := filepath.Join(root, defaultDepsFile)
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath
	}
	return ""
}

func init() {
	flags := fetchDepsCmd.Flags()
	flags.StringP("config", "c", "", "dependency list (defaults to "+defaultDepsFile+" if present)")
	flags.StringP("dest", "d", ".", "directory the dependencies are extracted into")
	flags.String("file-id", fetch.DefaultFileID, "ID of the archive to download when no dependency list is used")
	flags.BoolP("force", "f", false, "download dependencies even if they are up to date")
	flags.BoolP("update", "u", false, "update checksums")
	flags.BoolP("quiet", "q", false, "hide progress bars")

	rootCmd.AddCommand(fetchDepsCmd)
}
