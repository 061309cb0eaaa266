package archive

import (
	"os"
	"strings"
)

// Disposition selects what happens to an archive that failed verification
// once a later attempt has produced a good one.
type Disposition int

const (
	// DispositionKeep leaves the failed archive untouched.
	DispositionKeep Disposition = iota
	// DispositionDelete removes the failed archive.
	DispositionDelete
	// DispositionTag renames the failed archive with an _INVALID suffix so
	// nobody restores from it by accident.
	DispositionTag
)

// DispositionFunc is the caller-supplied policy deciding the fate of a
// superseded failed archive. A nil policy keeps the file untouched. The
// core never prompts; interactive callers wrap their prompt in one of
// these.
type DispositionFunc func(archivePath string) Disposition

// invalidSuffix marks archives that failed verification.
const invalidSuffix = "_INVALID.zip"

// disposePrevious applies the disposition policy to a failed archive left
// behind by an earlier attempt. Filesystem trouble here is logged and
// swallowed: the new verified archive already exists and its success must
// not be revoked over housekeeping.
func (a *Archiver) disposePrevious(path string) {
	if a.opts.Disposition == nil {
		a.logger.Info("keeping previous failed archive", "path", path)
		return
	}

	switch a.opts.Disposition(path) {
	case DispositionDelete:
		if err := os.Remove(path); err != nil {
			a.logger.Warn("could not delete failed archive", "path", path, "error", err)
			return
		}
		a.logger.Info("deleted previous failed archive", "path", path)

	case DispositionTag:
		tagged := strings.TrimSuffix(path, ".zip") + invalidSuffix
		if err := os.Rename(path, tagged); err != nil {
			a.logger.Warn("could not tag failed archive", "path", path, "error", err)
			return
		}
		sum, _, err := FileSHA256(tagged)
		if err != nil {
			a.logger.Warn("could not hash tagged archive", "path", tagged, "error", err)
			return
		}
		a.logger.Info("tagged previous failed archive", "path", tagged, "sha256", sum)

	default:
		a.logger.Info("keeping previous failed archive", "path", path)
	}
}
