package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&isoHandler{})
}

type isoState struct {
	model.HandlerStateBase

	BootImage     string
	Bootargs      string
	Extraargs     string
	InputCharset  string
	VolumeID      string
}

// isoHandler is grounded on _examples/original_source/image-iso.c's
// iso_generate.
type isoHandler struct{}

func (h *isoHandler) Type() string     { return "iso" }
func (h *isoHandler) NoRootpath() bool { return false }

func (h *isoHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	img.HandlerState = &isoState{
		BootImage:    getString(sec, "boot-image", ""),
		Bootargs:     getString(sec, "bootargs", "-no-emul-boot -boot-load-size 4 -boot-info-table -c boot.cat -hide boot.cat"),
		Extraargs:    getString(sec, "extraargs", ""),
		InputCharset: getString(sec, "input-charset", "default"),
		VolumeID:     getString(sec, "volume-id", ""),
	}
	return nil
}

func (h *isoHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *isoHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*isoState)
	if !ok {
		return fmt.Errorf("iso: image %s has no iso state", img.File)
	}

	args := []string{"-input-charset", st.InputCharset, "-R", "-hide-rr-moved"}
	if st.BootImage != "" {
		args = append(args, "-b", st.BootImage)
		extra, err := splitExtra(st.Bootargs)
		if err != nil {
			return fmt.Errorf("iso: %w", err)
		}
		args = append(args, extra...)
	}
	args = append(args, "-V", st.VolumeID)
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("iso: %w", err)
	}
	args = append(args, extra...)

	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
	args = append(args, "-o", img.Outfile, src)

	if err := ctx.Executor().Run("", ctx.Tool("genisoimage"), args...); err != nil {
		return fmt.Errorf("iso: %w", err)
	}
	return nil
}
