package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&qemuHandler{})
}

type qemuState struct {
	model.HandlerStateBase

	Format    string
	Extraargs string
}

// qemuHandler is grounded on _examples/original_source/image-qemu.c's
// qemu_generate/qemu_setup: wraps "qemu-img convert" over every partition
// naming a sibling image, producing Format (default qcow2).
type qemuHandler struct{}

func (h *qemuHandler) Type() string     { return "qemu" }
func (h *qemuHandler) NoRootpath() bool { return true }

func (h *qemuHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	parts, err := parsePartitions(sec)
	if err != nil {
		return fmt.Errorf("qemu: %w", err)
	}
	img.Partitions = append(img.Partitions, parts...)
	img.HandlerState = &qemuState{
		Format:    getString(sec, "format", "qcow2"),
		Extraargs: getString(sec, "extraargs", ""),
	}
	return nil
}

func (h *qemuHandler) Setup(ctx handler.Context, img *model.Image) error {
	count := 0
	for _, part := range img.Partitions {
		if part.Image != "" {
			count++
		}
	}
	if count == 0 {
		return fmt.Errorf("qemu: no partition given")
	}
	return nil
}

func (h *qemuHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*qemuState)
	if !ok {
		return fmt.Errorf("qemu: image %s has no qemu state", img.File)
	}

	var infiles []string
	for _, part := range img.Partitions {
		if part.Image == "" {
			ctx.Logf("qemu: skipping partition %s\n", part.Name)
			continue
		}
		child, err := resolveImage(ctx, part.Image)
		if err != nil {
			return fmt.Errorf("qemu: %w", err)
		}
		ctx.Logf("qemu: adding partition %s from %s ...\n", part.Name, part.Image)
		infiles = append(infiles, child.Outfile)
	}

	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("qemu: %w", err)
	}
	args := append([]string{"convert"}, extra...)
	args = append(args, "-O", st.Format)
	args = append(args, infiles...)
	args = append(args, img.Outfile)

	if err := ctx.Executor().Run("", ctx.Tool("qemuimg"), args...); err != nil {
		return fmt.Errorf("qemu: %w", err)
	}
	return nil
}
