package handlers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&fitHandler{})
}

type fitState struct {
	model.HandlerStateBase

	Keydir string
}

// fitHandler is grounded on _examples/original_source/image-fit.c's
// fit_generate/fit_parse: the "its" option names a sibling image holding a
// template .its source, which is copied to tmppath and appended with one
// "/incbin/" node per remaining partition before mkimage -f's it.
type fitHandler struct{}

func (h *fitHandler) Type() string     { return "fit" }
func (h *fitHandler) NoRootpath() bool { return true }

func (h *fitHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	parts, err := parsePartitions(sec)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	img.Partitions = append(img.Partitions, parts...)
	img.Partitions = append(img.Partitions, &model.Partition{
		Name:  "its",
		Image: getString(sec, "its", ""),
	})
	img.HandlerState = &fitState{Keydir: getString(sec, "keydir", "")}
	return nil
}

func (h *fitHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *fitHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*fitState)
	if !ok {
		return fmt.Errorf("fit: image %s has no fit state", img.File)
	}

	var itsPart *model.Partition
	for _, part := range img.Partitions {
		if part.Name == "its" {
			itsPart = part
			break
		}
	}
	if itsPart == nil {
		return fmt.Errorf("fit: no 'its' partition")
	}

	itsImg, err := resolveImage(ctx, itsPart.Image)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	itsPath := filepath.Join(ctx.TmpPath(), "fit.its")
	itsContent, err := os.ReadFile(itsImg.Outfile)
	if err != nil {
		return fmt.Errorf("fit: reading %s: %w", itsImg.Outfile, err)
	}

	var extra strings.Builder
	extra.WriteString("\n")
	for _, part := range img.Partitions {
		if part == itsPart {
			continue
		}
		child, err := resolveImage(ctx, part.Image)
		if err != nil {
			return fmt.Errorf("fit: %w", err)
		}
		fmt.Fprintf(&extra, "/ { images { %s { data = /incbin/(\"%s\"); };};};\n", part.Name, child.Outfile)
	}

	full := append(append([]byte{}, itsContent...), []byte(extra.String())...)
	if err := os.WriteFile(itsPath, full, 0o644); err != nil {
		return fmt.Errorf("fit: writing %s: %w", itsPath, err)
	}

	if st.Keydir != "" && !filepath.IsAbs(st.Keydir) {
		return fmt.Errorf("fit: 'keydir' must be an absolute path")
	}

	args := []string{"-r"}
	if st.Keydir != "" {
		args = append(args, "-k", st.Keydir)
	}
	args = append(args, "-f", itsPath, img.Outfile)

	if err := ctx.Executor().Run("", ctx.Tool("mkimage"), args...); err != nil {
		return fmt.Errorf("fit: failed to create FIT image: %w", err)
	}
	return nil
}
