package pipeline

import (
	"fmt"
	"os"

	"github.com/mholt/archiver/v3"
)

// ExtractArchive unpacks a model bundle into dst. Archives containing
// symlink entries are rejected before anything is written.
func ExtractArchive(archive, dst string) error {
	uaIface, err := archiver.ByExtension(archive)
	if err != nil {
		return fmt.Errorf("failed to detect archive format: %w", err)
	}

	un, ok := uaIface.(archiver.Unarchiver)
	if !ok {
		return fmt.Errorf("format specified by source filename is not an archive format: %s (%T)", archive, uaIface)
	}

	if z, ok := uaIface.(*archiver.Zip); ok {
		z.OverwriteExisting = true
		z.MkdirAll = true
		z.ContinueOnError = false
	}

	err = archiver.Walk(archive, func(f archiver.File) error {
		if f.FileInfo.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("archive contains a symlink")
		}
		return nil
	})
	if err != nil {
		return err
	}

	return un.Unarchive(archive, dst)
}
