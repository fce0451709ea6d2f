package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/fileio"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&f2fsHandler{})
}

type f2fsState struct {
	model.HandlerStateBase

	Extraargs string
	Label     string
}

// f2fsHandler is grounded on
// _examples/original_source/image-f2fs.c's f2fs_generate: mkfs.f2fs builds
// the empty filesystem, then sload.f2fs stages the mounted tree into it
// unless the image is declared empty.
type f2fsHandler struct{}

func (h *f2fsHandler) Type() string     { return "f2fs" }
func (h *f2fsHandler) NoRootpath() bool { return false }

func (h *f2fsHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	img.HandlerState = &f2fsState{
		Extraargs: getString(sec, "extraargs", ""),
		Label:     getString(sec, "label", ""),
	}
	return nil
}

func (h *f2fsHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *f2fsHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*f2fsState)
	if !ok {
		return fmt.Errorf("f2fs: image %s has no f2fs state", img.File)
	}

	if err := fileio.PrepareImage(img.Outfile, img.Size); err != nil {
		return fmt.Errorf("f2fs: %w", err)
	}

	args := []string{}
	if st.Label != "" {
		args = append(args, "-l", st.Label)
	}
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("f2fs: %w", err)
	}
	args = append(args, extra...)
	args = append(args, img.Outfile)

	if err := ctx.Executor().Run("", ctx.Tool("mkfsf2fs"), args...); err != nil {
		return fmt.Errorf("f2fs: %w", err)
	}

	if img.Empty {
		return nil
	}

	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
	if err := ctx.Executor().Run("", ctx.Tool("sloadf2fs"), "-f", src, img.Outfile); err != nil {
		return fmt.Errorf("f2fs: %w", err)
	}
	return nil
}
