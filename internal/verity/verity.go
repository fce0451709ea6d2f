// Package verity implements the "verity" handler: shells out to
// veritysetup to build a dm-verity hash tree over a previously generated
// image, requesting that the root hash be written to a file in tmppath so
// a sibling "verity-sig" image can sign it.
//
// Grounded on _examples/original_source/image-verity.c (verity_generate,
// verity_tmp_path).
package verity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pengutronix/genimage/internal/fileio"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/shellexec"
	"github.com/pengutronix/genimage/internal/stage"
)

// RootHashPath returns the tmppath file veritysetup is told to write the
// hash-tree's root hash into, keyed by the verity image's own file name so
// a "verity-sig" image referencing it can find the same path.
func RootHashPath(tmpPath, verityFile string) string {
	return filepath.Join(tmpPath, stage.Sanitize(verityFile)+".root-hash")
}

// Generate runs "veritysetup format" over dataFile, writing the hash tree
// to outfile (pre-sized to size if size is non-zero) and the root hash to
// RootHashPath(ctx.TmpPath(), verityFile). It returns the final size of
// outfile, the way verity_generate reports image->size back to the caller.
func Generate(ctx handler.Context, verityFile, dataFile, outfile string, size uint64, extraargs string) (uint64, error) {
	if err := fileio.PrepareImage(outfile, size); err != nil {
		return 0, fmt.Errorf("verity: %w", err)
	}

	args := []string{"format", "--root-hash-file", RootHashPath(ctx.TmpPath(), verityFile)}
	if extraargs != "" {
		extra, err := shellexec.SplitArgs(extraargs)
		if err != nil {
			return 0, fmt.Errorf("verity: %w", err)
		}
		args = append(args, extra...)
	}
	args = append(args, dataFile, outfile)

	if err := ctx.Executor().Run("", ctx.Tool("veritysetup"), args...); err != nil {
		return 0, fmt.Errorf("verity: %w", err)
	}

	st, err := os.Stat(outfile)
	if err != nil {
		return 0, fmt.Errorf("verity: stat %s: %w", outfile, err)
	}
	actual := uint64(st.Size())

	if size != 0 && size < actual {
		return 0, fmt.Errorf("verity: specified image size (%d) is too small, generated %d bytes", size, actual)
	}

	return actual, nil
}
