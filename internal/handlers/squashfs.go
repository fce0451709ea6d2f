package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&squashfsHandler{})
}

type squashfsState struct {
	model.HandlerStateBase

	Extraargs   string
	Compression string
	BlockSize   uint64
}

// squashfsHandler is grounded on
// _examples/original_source/image-squashfs.c's squash_generate.
type squashfsHandler struct{}

func (h *squashfsHandler) Type() string     { return "squashfs" }
func (h *squashfsHandler) NoRootpath() bool { return false }

func (h *squashfsHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	blockSize, err := getSize(sec, "block-size")
	if err != nil {
		return fmt.Errorf("squashfs: %w", err)
	}
	if blockSize == 0 {
		blockSize = 4096
	}
	img.HandlerState = &squashfsState{
		Extraargs:   getString(sec, "extraargs", ""),
		Compression: getString(sec, "compression", "gzip"),
		BlockSize:   blockSize,
	}
	return nil
}

func (h *squashfsHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *squashfsHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*squashfsState)
	if !ok {
		return fmt.Errorf("squashfs: image %s has no squashfs state", img.File)
	}

	var compArgs []string
	if strings.EqualFold(st.Compression, "none") {
		compArgs = []string{"-comp", "gzip", "-noInodeCompression", "-noDataCompression", "-noFragmentCompression", "-noXattrCompression"}
	} else {
		compArgs = []string{"-comp", st.Compression}
	}

	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
	args := []string{src, img.Outfile, "-b", strconv.FormatUint(st.BlockSize, 10), "-noappend"}
	args = append(args, compArgs...)
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("squashfs: %w", err)
	}
	args = append(args, extra...)

	if err := ctx.Executor().Run("", ctx.Tool("mksquashfs"), args...); err != nil {
		return fmt.Errorf("squashfs: %w", err)
	}
	return nil
}
