package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&cramfsHandler{})
}

type cramfsState struct {
	model.HandlerStateBase

	Extraargs string
}

// cramfsHandler is grounded on
// _examples/original_source/image-cramfs.c's cram_generate. image->name
// (the "name" config option every image record carries) becomes mkcramfs's
// volume name when set.
type cramfsHandler struct{}

func (h *cramfsHandler) Type() string     { return "cramfs" }
func (h *cramfsHandler) NoRootpath() bool { return false }

func (h *cramfsHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	img.HandlerState = &cramfsState{Extraargs: getString(sec, "extraargs", "")}
	return nil
}

func (h *cramfsHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *cramfsHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*cramfsState)
	if !ok {
		return fmt.Errorf("cramfs: image %s has no cramfs state", img.File)
	}

	var args []string
	if img.Name != "" {
		args = append(args, "-n", img.Name)
	}
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("cramfs: %w", err)
	}
	args = append(args, extra...)

	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
	args = append(args, src, img.Outfile)

	if err := ctx.Executor().Run("", ctx.Tool("mkcramfs"), args...); err != nil {
		return fmt.Errorf("cramfs: %w", err)
	}
	return nil
}
