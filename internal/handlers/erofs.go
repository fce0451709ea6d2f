package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&erofsHandler{})
}

type erofsState struct {
	model.HandlerStateBase

	Label       string
	Extraargs   string
	FsTimestamp string
}

// erofsHandler is grounded on
// _examples/original_source/image-erofs.c's erofs_generate/erofs_setup.
type erofsHandler struct{}

func (h *erofsHandler) Type() string     { return "erofs" }
func (h *erofsHandler) NoRootpath() bool { return false }

func (h *erofsHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	label := getString(sec, "label", "")
	if len(label) > 15 {
		return fmt.Errorf("erofs: label %q is longer than allowed (15 bytes)", label)
	}
	img.HandlerState = &erofsState{
		Label:       label,
		Extraargs:   getString(sec, "extraargs", ""),
		FsTimestamp: getString(sec, "fs-timestamp", ""),
	}
	return nil
}

func (h *erofsHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *erofsHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*erofsState)
	if !ok {
		return fmt.Errorf("erofs: image %s has no erofs state", img.File)
	}

	var args []string
	if st.Label != "" {
		args = append(args, "-L", st.Label)
	}
	if st.FsTimestamp != "" {
		args = append(args, "-T", st.FsTimestamp)
	}
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("erofs: %w", err)
	}
	args = append(args, extra...)

	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
	args = append(args, img.Outfile, src)

	if err := ctx.Executor().Run("", ctx.Tool("mkfserofs"), args...); err != nil {
		return fmt.Errorf("erofs: %w", err)
	}
	return nil
}
