package handlers

import (
	"fmt"
	"path/filepath"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&fileHandler{})
}

type fileState struct {
	model.HandlerStateBase

	Name string
}

// fileHandler is grounded on _examples/original_source/image-file.c's
// file_generate/file_setup: a verbatim copy of one file out of inputpath,
// defaulting to the image's own file name.
type fileHandler struct{}

func (h *fileHandler) Type() string     { return "file" }
func (h *fileHandler) NoRootpath() bool { return false }

func (h *fileHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	img.HandlerState = &fileState{Name: getString(sec, "name", "")}
	return nil
}

func (h *fileHandler) Setup(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*fileState)
	if !ok {
		return fmt.Errorf("file: image %s has no file state", img.File)
	}
	if st.Name == "" {
		st.Name = img.File
	}
	return nil
}

func (h *fileHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*fileState)
	if !ok {
		return fmt.Errorf("file: image %s has no file state", img.File)
	}

	src := filepath.Join(ctx.InputPath(), st.Name)
	if err := ctx.Executor().Run("", "cp", src, img.Outfile); err != nil {
		return fmt.Errorf("file: %w", err)
	}
	return nil
}
