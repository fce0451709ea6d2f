package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/fileio"
	"github.com/pengutronix/genimage/internal/graph"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&customHandler{})
}

type customState struct {
	model.HandlerStateBase

	Exec string
}

// customHandler is grounded on _examples/original_source/image-custom.c's
// custom_generate/custom_setup/custom_parse: the configured shell script
// is entirely responsible for producing the output file; this handler only
// pre-sizes it, runs the script, and records the resulting size if none
// was configured.
type customHandler struct{}

func (h *customHandler) Type() string     { return "custom" }
func (h *customHandler) NoRootpath() bool { return false }

func (h *customHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	if img.Mountpoint == "" {
		img.Empty = true
	}
	img.HandlerState = &customState{Exec: getString(sec, "exec", "")}
	return nil
}

func (h *customHandler) Setup(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*customState)
	if !ok {
		return fmt.Errorf("custom: image %s has no custom state", img.File)
	}
	if st.Exec == "" {
		return fmt.Errorf("custom: mandatory option 'exec' is missing")
	}
	return nil
}

func (h *customHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*customState)
	if !ok {
		return fmt.Errorf("custom: image %s has no custom state", img.File)
	}

	if err := fileio.PrepareImage(img.Outfile, img.Size); err != nil {
		return fmt.Errorf("custom: %w", err)
	}

	if err := ctx.Executor().RunShell("", st.Exec, graph.ImageEnv(img)); err != nil {
		return fmt.Errorf("custom: %w", err)
	}

	actual, err := fileio.FileSize(img.Outfile)
	if err != nil {
		return fmt.Errorf("custom: command %q failed to create %s: %w", st.Exec, img.Outfile, err)
	}
	if img.Size == 0 {
		img.Size = actual
	}
	return nil
}
