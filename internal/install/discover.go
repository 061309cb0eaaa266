package install

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrNoInstall reports that no VergeGrid installation could be located.
var ErrNoInstall = errors.New("no VergeGrid installation found")

// Install is a resolved installation. Descriptor is nil when the marker
// file is missing or unreadable.
type Install struct {
	Root       string
	Descriptor *Descriptor
}

// MarkerPath returns the descriptor path for the installation.
func (in *Install) MarkerPath() string {
	return filepath.Join(in.Root, MarkerName)
}

// savedPathFile is the per-user state file recording the last resolved
// install root, so later runs skip the volume scan.
func savedPathFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(dir, "gridkeeper", "install_path.txt"), nil
}

// ReadSavedPath returns the remembered install root, or "" when none is
// recorded.
func ReadSavedPath() string {
	path, err := savedPathFile()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveInstallPath records root for future runs. Failure is logged, not
// fatal; the next run just scans again.
func SaveInstallPath(root string, logger *slog.Logger) {
	path, err := savedPathFile()
	if err != nil {
		logger.Warn("cannot record install path", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("cannot record install path", "path", path, "error", err)
		return
	}
	if err := os.WriteFile(path, []byte(root+"\n"), 0o644); err != nil {
		logger.Warn("cannot record install path", "path", path, "error", err)
	}
}

// ScanVolumes checks every mounted volume for a VergeGrid directory with a
// descriptor and returns the first root found, or "".
func ScanVolumes(logger *slog.Logger) string {
	parts, err := disk.Partitions(false)
	if err != nil {
		logger.Warn("volume scan failed", "error", err)
		return ""
	}
	for _, p := range parts {
		candidate := filepath.Join(p.Mountpoint, "VergeGrid")
		if _, err := os.Stat(filepath.Join(candidate, MarkerName)); err == nil {
			logger.Info("found installation", "root", candidate, "volume", p.Mountpoint)
			return candidate
		}
	}
	return ""
}

// Resolve locates the installation to operate on. An explicit root wins;
// otherwise the saved path is tried, then a volume scan. The resolved root
// is remembered, and a descriptor whose install_root no longer matches
// (volume letter changed, tree moved) is corrected in place.
func Resolve(explicit string, logger *slog.Logger) (*Install, error) {
	root := ""
	switch {
	case explicit != "":
		info, err := os.Stat(explicit)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("install root %q is not a directory", explicit)
		}
		root = filepath.Clean(explicit)
	default:
		if saved := ReadSavedPath(); saved != "" {
			if _, err := os.Stat(filepath.Join(saved, MarkerName)); err == nil {
				root = saved
			} else {
				logger.Warn("saved install path is stale, rescanning", "path", saved)
			}
		}
		if root == "" {
			root = ScanVolumes(logger)
		}
	}
	if root == "" {
		return nil, ErrNoInstall
	}

	inst := &Install{Root: root}
	desc, err := LoadDescriptor(inst.MarkerPath())
	if err != nil {
		logger.Warn("installation has no readable descriptor", "root", root, "error", err)
	} else {
		inst.Descriptor = desc
		if recorded := desc.Root(); recorded != "" && !samePath(recorded, root) {
			logger.Info("correcting descriptor install_root", "recorded", recorded, "actual", root)
			desc.Set("install_root", root)
			if err := desc.Save(); err != nil {
				logger.Warn("could not rewrite descriptor", "error", err)
			}
		}
	}

	SaveInstallPath(root, logger)
	return inst, nil
}

// samePath compares two paths leniently: cleaned, slash-normalized, and
// case-insensitive, since grid installs live on Windows volumes.
func samePath(a, b string) bool {
	na := strings.ToLower(filepath.ToSlash(filepath.Clean(a)))
	nb := strings.ToLower(filepath.ToSlash(filepath.Clean(b)))
	return na == nb
}
