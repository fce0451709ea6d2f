package handlers

import (
	"fmt"
	"strconv"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&jffs2Handler{})
}

type jffs2State struct {
	model.HandlerStateBase

	Extraargs string
}

// jffs2Handler is grounded on
// _examples/original_source/image-jffs2.c's jffs2_generate/jffs2_setup.
type jffs2Handler struct{}

func (h *jffs2Handler) Type() string     { return "jffs2" }
func (h *jffs2Handler) NoRootpath() bool { return false }

func (h *jffs2Handler) Parse(img *model.Image, sec *cfgfile.Section) error {
	img.HandlerState = &jffs2State{Extraargs: getString(sec, "extraargs", "")}
	return nil
}

func (h *jffs2Handler) Setup(ctx handler.Context, img *model.Image) error {
	if img.FlashType == nil {
		return fmt.Errorf("jffs2: no flash type given")
	}
	return nil
}

func (h *jffs2Handler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*jffs2State)
	if !ok {
		return fmt.Errorf("jffs2: image %s has no jffs2 state", img.File)
	}

	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("jffs2: %w", err)
	}

	args := append([]string{
		"--eraseblock=" + strconv.FormatUint(img.FlashType.PEBSize, 10),
		"-d", src, "-o", img.Outfile,
	}, extra...)

	if err := ctx.Executor().Run("", ctx.Tool("mkfsjffs2"), args...); err != nil {
		return fmt.Errorf("jffs2: %w", err)
	}
	return nil
}
