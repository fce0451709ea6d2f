package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&ubifsHandler{})
}

type ubifsState struct {
	model.HandlerStateBase

	Extraargs string
	MaxSize   uint64
}

// ubifsHandler is grounded on
// _examples/original_source/image-ubifs.c's ubifs_generate/ubifs_setup.
type ubifsHandler struct{}

func (h *ubifsHandler) Type() string     { return "ubifs" }
func (h *ubifsHandler) NoRootpath() bool { return false }

func (h *ubifsHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	maxSize, err := getSize(sec, "max-size")
	if err != nil {
		return fmt.Errorf("ubifs: %w", err)
	}
	img.HandlerState = &ubifsState{
		Extraargs: getString(sec, "extraargs", ""),
		MaxSize:   maxSize,
	}
	return nil
}

func (h *ubifsHandler) Setup(ctx handler.Context, img *model.Image) error {
	if img.FlashType == nil {
		return fmt.Errorf("ubifs: no flash type given")
	}
	return nil
}

func (h *ubifsHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*ubifsState)
	if !ok {
		return fmt.Errorf("ubifs: image %s has no ubifs state", img.File)
	}

	size := st.MaxSize
	if size == 0 {
		size = img.Size
	}
	maxLebCnt := size / img.FlashType.LEBSize

	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("ubifs: %w", err)
	}

	args := append([]string{
		"-d", src,
		"-e", fmt.Sprint(img.FlashType.LEBSize),
		"-m", fmt.Sprint(img.FlashType.MinimumIOUnitSize),
		"-c", fmt.Sprint(maxLebCnt),
		"-o", img.Outfile,
	}, extra...)

	if err := ctx.Executor().Run("", ctx.Tool("mkfsubifs"), args...); err != nil {
		return fmt.Errorf("ubifs: %w", err)
	}
	return nil
}
