package fetch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/helcl42/PreVEngine/pkg/fsutil"
	"github.com/helcl42/PreVEngine/pkg/logging"
)

// Fetcher downloads and unpacks every dependency listed in a DepConfig
type Fetcher struct {
	Config DepConfig
	// ConfigPath and ConfigData are only needed to write updated checksums back
	ConfigPath string
	ConfigData []byte
	// StampPath is where extracted versions are remembered, empty disables stamps
	StampPath string
	// Root is the directory Dest paths are relative to
	Root       string
	Endpoint   string
	Downloader *Downloader
	// Force downloads dependencies even if their stamp is current
	Force bool
	// Update records new checksums instead of failing on mismatches
	Update bool
	// Vars are merged over Config.Vars
	Vars map[string]string
}

// HostVars returns the variables describing the current host for if/ifNot conditions
func HostVars() map[string]string {
	vars := map[string]string{
		runtime.GOOS:   "true",
		runtime.GOARCH: "true",
	}

	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}

	return vars
}

// Run processes all dependencies in name order and stops at the first failure. Stamps are saved
// either way so that completed dependencies aren't downloaded again.
func (f *Fetcher) Run(ctx context.Context) error {
	logger := logging.Log(ctx)

	stamps := Stamps{}
	if f.StampPath != "" {
		var err error
		stamps, err = LoadStamps(f.StampPath)
		if err != nil {
			return err
		}
	}

	vars := map[string]string{}
	for k, v := range f.Config.Vars {
		vars[k] = v
	}
	for k, v := range f.Vars {
		vars[k] = v
	}

	names := make([]string, 0, len(f.Config.Deps))
	for name := range f.Config.Deps {
		names = append(names, name)
	}
	sort.Strings(names)

	changes := map[string]string{}
	var runErr error
	for _, name := range names {
		if runErr = ctx.Err(); runErr != nil {
			break
		}

		spec := f.Config.Deps[name]
		// Conditions are evaluated even when updating because they also expand the placeholders.
		selected := spec.resolve(vars)
		if !selected && !f.Update {
			logger.Debug().Str("dep", name).Msg("Skipped on this host")
			continue
		}

		_, err := os.Stat(f.destPath(spec))
		destExists := err == nil

		if !f.Force && stamps[name] == spec.stampToken() && destExists {
			logger.Info().Str("dep", name).Msg("Up to date")
			continue
		}

		logger.Info().Str("dep", name).Msgf("Fetching %s", spec.source())
		runErr = f.fetchOne(ctx, name, spec, selected, changes)
		if runErr != nil {
			break
		}

		if selected {
			if digest, ok := changes[name]; ok {
				spec.Sha256 = digest
			}
			stamps[name] = spec.stampToken()
		}
	}

	if runErr == nil && f.Update && len(changes) > 0 {
		runErr = f.writeChecksums(ctx, changes)
	}

	if f.StampPath != "" {
		err := stamps.Save(f.StampPath)
		if err != nil {
			if runErr == nil {
				return err
			}
			logger.Error().Err(err).Msg("Failed to save stamps")
		}
	}

	return runErr
}

func (f *Fetcher) destPath(spec DepSpec) string {
	if filepath.IsAbs(spec.Dest) {
		return spec.Dest
	}

	return filepath.Join(f.Root, spec.Dest)
}

func (f *Fetcher) fetchOne(ctx context.Context, name string, spec DepSpec, selected bool, changes map[string]string) error {
	logger := logging.Log(ctx)

	archive, err := os.CreateTemp("", "prev-deps-*-"+spec.archiveName())
	if err != nil {
		return eris.Wrap(err, "Failed to create temporary archive")
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	depLogger := logger.With().Str("dep", name).Logger()
	dlCtx := logging.WithLogger(ctx, &depLogger)

	var digest string
	if spec.URL != "" {
		digest, err = f.Downloader.Download(dlCtx, spec.URL, archive)
	} else {
		endpoint := f.Endpoint
		if endpoint == "" {
			endpoint = DefaultEndpoint
		}
		digest, err = f.Downloader.DownloadFile(dlCtx, endpoint, spec.FileID, archive)
	}
	if err != nil {
		return eris.Wrapf(err, "Failed to download %s", name)
	}

	err = archive.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", archive.Name())
	}

	switch {
	case spec.Sha256 == "" && f.Update:
		changes[name] = digest
	case spec.Sha256 == "":
		logger.Warn().Str("dep", name).Msgf("No checksum configured, downloaded archive has sha256 %s", digest)
	case digest != spec.Sha256 && f.Update:
		logger.Info().Str("dep", name).Msg("Updating checksum")
		changes[name] = digest
	case digest != spec.Sha256:
		return eris.Wrapf(ErrChecksumMismatch, "%s: expected %s but got %s", name, spec.Sha256, digest)
	}

	if !selected {
		return nil
	}

	destPath, err := filepath.Abs(f.destPath(spec))
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", spec.Dest)
	}

	if spec.Clean {
		root, err := filepath.Abs(f.Root)
		if err != nil {
			return eris.Wrapf(err, "Failed to resolve %s", f.Root)
		}

		if fsutil.IsWithin(destPath, root) {
			return eris.Errorf("Refusing to clean %s because it contains the project root", destPath)
		}

		logger.Info().Str("dep", name).Str("path", destPath).Msgf("Remove %s", destPath)
		err = os.RemoveAll(destPath)
		if err != nil {
			return eris.Wrapf(err, "Failed to remove %s", destPath)
		}
	}

	err = os.MkdirAll(destPath, 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", destPath)
	}

	logger.Info().Str("dep", name).Msgf("Unzipping %s ...", spec.archiveName())
	err = Extract(archive.Name(), destPath, spec.Strip, f.Downloader.Quiet)
	if err != nil {
		return err
	}

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
		for _, binPath := range spec.MarkExec {
			binPath = filepath.Join(destPath, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0700)
			if err != nil {
				return eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	return nil
}

func (f *Fetcher) writeChecksums(ctx context.Context, changes map[string]string) error {
	logger := logging.Log(ctx)

	if f.ConfigPath == "" || f.ConfigData == nil {
		for name, digest := range changes {
			logger.Info().Str("dep", name).Msgf("sha256: %s", digest)
		}
		return nil
	}

	generated, err := UpdateChecksums(f.ConfigData, changes)
	if err != nil {
		return err
	}

	err = os.WriteFile(f.ConfigPath, generated, os.FileMode(0660))
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", f.ConfigPath)
	}

	logger.Info().Str("path", f.ConfigPath).Msgf("Updated %d checksums in %s", len(changes), f.ConfigPath)
	return nil
}
