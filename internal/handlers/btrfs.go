package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/fileio"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&btrfsHandler{})
}

type btrfsState struct {
	model.HandlerStateBase

	Label     string
	Extraargs string
}

// btrfsHandler is grounded on
// _examples/original_source/image-btrfs.c's btrfs_generate. mkfs.btrfs
// sizes its own output from the source tree, so an unset image size is
// recorded from the resulting file afterwards rather than pre-allocated.
type btrfsHandler struct{}

func (h *btrfsHandler) Type() string     { return "btrfs" }
func (h *btrfsHandler) NoRootpath() bool { return false }

func (h *btrfsHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	img.HandlerState = &btrfsState{
		Label:     getString(sec, "label", ""),
		Extraargs: getString(sec, "extraargs", ""),
	}
	return nil
}

func (h *btrfsHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *btrfsHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*btrfsState)
	if !ok {
		return fmt.Errorf("btrfs: image %s has no btrfs state", img.File)
	}

	if err := fileio.PrepareImage(img.Outfile, img.Size); err != nil {
		return fmt.Errorf("btrfs: %w", err)
	}

	var args []string
	if st.Label != "" {
		args = append(args, "-L", st.Label)
	}
	if !img.Empty {
		src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
		args = append(args, "-r", src)
	}
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("btrfs: %w", err)
	}
	args = append(args, extra...)
	args = append(args, img.Outfile)

	if err := ctx.Executor().Run("", ctx.Tool("mkfsbtrfs"), args...); err != nil {
		return fmt.Errorf("btrfs: %w", err)
	}
	if img.Empty {
		return nil
	}

	actual, err := fileio.FileSize(img.Outfile)
	if err != nil {
		return fmt.Errorf("btrfs: %w", err)
	}
	if img.Size != 0 && img.Size != actual {
		return fmt.Errorf("btrfs: created image is bigger than configured image size: %d > %d", actual, img.Size)
	}
	if img.Size == 0 {
		img.Size = actual
	}
	return nil
}
