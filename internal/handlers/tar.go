package handlers

import (
	"fmt"
	"strings"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&tarHandler{})
}

// tarHandler is grounded on _examples/original_source/image-tar.c's
// tar_generate: the compression letter is picked from the output file
// name's suffix and handed to the real tar binary's "c<letter>" mode
// instead of reimplementing archive/tar + a Go gzip writer, so the staged
// tree's permissions, xattrs and hardlinks come out exactly as the real
// tar tool would produce them.
type tarHandler struct{}

func (h *tarHandler) Type() string     { return "tar" }
func (h *tarHandler) NoRootpath() bool { return false }

func (h *tarHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	img.HandlerState = &model.HandlerStateBase{}
	return nil
}

func (h *tarHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *tarHandler) Generate(ctx handler.Context, img *model.Image) error {
	comp := ""
	switch {
	case strings.Contains(img.File, ".tar.gz"), strings.Contains(img.File, "tgz"):
		comp = "z"
	case strings.Contains(img.File, ".tar.bz2"):
		comp = "j"
	}

	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
	if err := ctx.Executor().Run("", ctx.Tool("tar"), "c"+comp, "-f", img.Outfile, "-C", src, "."); err != nil {
		return fmt.Errorf("tar: %w", err)
	}
	return nil
}
