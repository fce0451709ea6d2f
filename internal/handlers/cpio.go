package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&cpioHandler{})
}

type cpioState struct {
	model.HandlerStateBase

	Format    string
	Extraargs string
	Compress  string
}

// cpioHandler is grounded on _examples/original_source/image-cpio.c's
// cpio_generate: a "cd mountpath && find . | cpio ... [| compress]" shell
// pipeline, run through RunShell the way the original's single systemp()
// call drives /bin/sh itself.
type cpioHandler struct{}

func (h *cpioHandler) Type() string     { return "cpio" }
func (h *cpioHandler) NoRootpath() bool { return false }

func (h *cpioHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	img.HandlerState = &cpioState{
		Format:    getString(sec, "format", "newc"),
		Extraargs: getString(sec, "extraargs", ""),
		Compress:  getString(sec, "compress", ""),
	}
	return nil
}

func (h *cpioHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *cpioHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*cpioState)
	if !ok {
		return fmt.Errorf("cpio: image %s has no cpio state", img.File)
	}

	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
	pipe := ""
	if st.Compress != "" {
		pipe = "|"
	}

	script := fmt.Sprintf("(cd %q && find . | %s -H %q %s %s %s) > %q",
		src, ctx.Tool("cpio"), st.Format, st.Extraargs, pipe, st.Compress, img.Outfile)

	if err := ctx.Executor().RunShell("", script, nil); err != nil {
		return fmt.Errorf("cpio: %w", err)
	}
	return nil
}
