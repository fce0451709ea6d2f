package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
	"github.com/pengutronix/genimage/internal/sparse"
)

func init() {
	handler.Register(&androidSparseHandler{})
}

type androidSparseState struct {
	model.HandlerStateBase

	BlockSize uint64
}

// androidSparseHandler wraps internal/sparse, grounded on
// _examples/original_source/image-android-sparse.c.
type androidSparseHandler struct{}

func (h *androidSparseHandler) Type() string     { return "android-sparse" }
func (h *androidSparseHandler) NoRootpath() bool { return true }

func (h *androidSparseHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	src := getString(sec, "image", "")
	if src == "" {
		return fmt.Errorf("android-sparse: mandatory option 'image' is missing")
	}
	img.Partitions = append(img.Partitions, &model.Partition{Image: src})

	blockSize, err := getSize(sec, "block-size")
	if err != nil {
		return fmt.Errorf("android-sparse: %w", err)
	}
	if blockSize == 0 {
		blockSize = 4096
	}
	if blockSize%512 != 0 {
		return fmt.Errorf("android-sparse: block-size %d invalid, must be a multiple of 512", blockSize)
	}

	img.HandlerState = &androidSparseState{BlockSize: blockSize}
	return nil
}

func (h *androidSparseHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *androidSparseHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*androidSparseState)
	if !ok {
		return fmt.Errorf("android-sparse: image %s has no android-sparse state", img.File)
	}
	if len(img.Partitions) != 1 {
		return fmt.Errorf("android-sparse: image %s: expected exactly one source image", img.File)
	}

	data, err := resolveImage(ctx, img.Partitions[0].Image)
	if err != nil {
		return fmt.Errorf("android-sparse: %w", err)
	}

	stats, err := sparse.Generate(img.Outfile, data.Outfile, st.BlockSize)
	if err != nil {
		return fmt.Errorf("android-sparse: %w", err)
	}
	ctx.Logf("android-sparse: wrote %d chunks over %d blocks\n", stats.Chunks, stats.Blocks)
	return nil
}
