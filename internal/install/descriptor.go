// Package install locates a VergeGrid installation and reads the flat
// key=value descriptor the installer leaves at its root. The descriptor
// names where each component lives; everything else in this repo resolves
// paths through it rather than hardcoding the layout.
package install

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vergegrid/gridkeeper/internal/safety"
)

// MarkerName is the descriptor filename that marks an installation root.
const MarkerName = "vergegrid.conf"

// DefaultBackupMaxRetries applies when the descriptor has no
// backup_max_retries key or the value does not parse.
const DefaultBackupMaxRetries = 3

// Descriptor is a parsed vergegrid.conf. Raw lines are kept verbatim so
// saving preserves comments, blank lines, and keys this tool does not know
// about.
type Descriptor struct {
	Path   string
	lines  []string
	values map[string]string
}

// LoadDescriptor reads and parses the descriptor at path.
func LoadDescriptor(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening descriptor: %w", err)
	}
	defer f.Close()

	d := &Descriptor{
		Path:   path,
		values: make(map[string]string),
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		d.lines = append(d.lines, line)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		d.values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading descriptor: %w", err)
	}
	return d, nil
}

// Get returns the value for key, or "" when absent.
func (d *Descriptor) Get(key string) string {
	if d == nil {
		return ""
	}
	return d.values[key]
}

// Root returns the install_root recorded in the descriptor, or "".
func (d *Descriptor) Root() string {
	return d.Get("install_root")
}

// BackupMaxRetries returns the configured retry bound for backup attempts.
func (d *Descriptor) BackupMaxRetries() int {
	raw := d.Get("backup_max_retries")
	if raw == "" {
		return DefaultBackupMaxRetries
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return DefaultBackupMaxRetries
	}
	return n
}

// Set updates key in place, preserving every other line. Keys not present
// yet are appended.
func (d *Descriptor) Set(key, value string) {
	prefix := key + "="
	for i, line := range d.lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		k, _, ok := strings.Cut(trimmed, "=")
		if ok && strings.TrimSpace(k) == key {
			d.lines[i] = prefix + value
			d.values[key] = value
			return
		}
	}
	d.lines = append(d.lines, prefix+value)
	d.values[key] = value
}

// Save writes the descriptor back to its path.
func (d *Descriptor) Save() error {
	var sb strings.Builder
	for _, line := range d.lines {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if err := os.WriteFile(d.Path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}
	return nil
}

// pathOr resolves a descriptor path key, falling back when unset.
func (d *Descriptor) pathOr(key, fallback string) string {
	if v := d.Get(key); v != "" {
		return filepath.Clean(v)
	}
	return fallback
}

// BackupPaths returns the fixed set of paths worth backing up for the
// installation at root: the component roots named by the descriptor plus
// the Logs and Downloads trees and the descriptor itself. PHP is listed
// separately only when it lives outside the Apache tree, so its files are
// not archived twice. A nil descriptor yields the standard layout.
func BackupPaths(root string, d *Descriptor) []string {
	apache := d.pathOr("APACHE_ROOT", filepath.Join(root, "Apache"))
	php := d.pathOr("PHP_ROOT", filepath.Join(root, "Apache", "php"))

	paths := []string{
		d.pathOr("MYSQL_ROOT", filepath.Join(root, "MySQL")),
		apache,
		d.pathOr("OPEN_SIM_ROOT", filepath.Join(root, "OpenSim")),
		filepath.Join(root, "Logs"),
		filepath.Join(root, "Downloads"),
		filepath.Join(root, MarkerName),
	}
	if !safety.ContainsPath(apache, php) {
		paths = append(paths, php)
	}
	return paths
}

// ComponentDirs returns the directories removed during a full cleanup: the
// component roots named by the descriptor plus the Downloads and Logs
// trees. As with BackupPaths, PHP is listed separately only when it lives
// outside the Apache tree. A nil descriptor yields the standard layout.
func ComponentDirs(root string, d *Descriptor) []string {
	apache := d.pathOr("APACHE_ROOT", filepath.Join(root, "Apache"))
	php := d.pathOr("PHP_ROOT", filepath.Join(root, "Apache", "php"))

	dirs := []string{
		d.pathOr("MYSQL_ROOT", filepath.Join(root, "MySQL")),
		apache,
		d.pathOr("OPEN_SIM_ROOT", filepath.Join(root, "OpenSim")),
		filepath.Join(root, "Downloads"),
		filepath.Join(root, "Logs"),
	}
	if !safety.ContainsPath(apache, php) {
		dirs = append(dirs, php)
	}
	return dirs
}
