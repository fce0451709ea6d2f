package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
	"github.com/pengutronix/genimage/internal/mtd"
)

func init() {
	handler.Register(&flashHandler{})
}

// flashHandler wraps internal/mtd, grounded on
// _examples/original_source/image-flash.c. It never assembles a combined
// output file itself; each partition's child image is generated and
// validated against the flash geometry on its own.
type flashHandler struct{}

func (h *flashHandler) Type() string     { return "flash" }
func (h *flashHandler) NoRootpath() bool { return true }

func (h *flashHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	parts, err := parsePartitions(sec)
	if err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	img.Partitions = append(img.Partitions, parts...)
	return nil
}

func (h *flashHandler) Setup(ctx handler.Context, img *model.Image) error {
	if err := mtd.Layout(img); err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	return nil
}

func (h *flashHandler) Generate(ctx handler.Context, img *model.Image) error {
	if err := mtd.Generate(img, ctx.Image); err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	return nil
}
