package handlers

import (
	"fmt"
	"strings"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&vfatHandler{})
}

type vfatState struct {
	model.HandlerStateBase

	Extraargs string
}

// vfatHandler is grounded on _examples/original_source/image-vfat.c's
// vfat_generate/vfat_parse: every "file"/"files" entry becomes a partition
// whose Name is the in-image target path (possibly with '/' separators,
// unlike every other handler's partition titles).
type vfatHandler struct{}

func (h *vfatHandler) Type() string     { return "vfat" }
func (h *vfatHandler) NoRootpath() bool { return false }

func (h *vfatHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	for _, fsec := range sec.All("file") {
		img.Partitions = append(img.Partitions, &model.Partition{
			Name:  fsec.Title,
			Image: getString(fsec, "image", ""),
		})
	}
	for _, v := range getAll(sec, "files") {
		img.Partitions = append(img.Partitions, &model.Partition{Name: "", Image: v})
	}

	img.HandlerState = &vfatState{Extraargs: getString(sec, "extraargs", "")}
	return nil
}

func (h *vfatHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *vfatHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*vfatState)
	if !ok {
		return fmt.Errorf("vfat: image %s has no vfat state", img.File)
	}
	ex := ctx.Executor()

	if err := ex.Run("", "dd", "if=/dev/zero", fmt.Sprintf("of=%s", img.Outfile),
		fmt.Sprintf("seek=%d", img.Size), "count=0", "bs=1"); err != nil {
		return fmt.Errorf("vfat: %w", err)
	}

	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("vfat: %w", err)
	}
	mkdosArgs := append(append([]string{}, extra...), img.Outfile)
	if err := ex.Run("", ctx.Tool("mkdosfs"), mkdosArgs...); err != nil {
		return fmt.Errorf("vfat: %w", err)
	}

	if len(img.Partitions) == 0 {
		src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())
		if err := ex.Run("", ctx.Tool("mcopy"), "-bsp", "-i", img.Outfile, src+"/*", "::"); err != nil {
			return fmt.Errorf("vfat: %w", err)
		}
		return nil
	}

	for _, part := range img.Partitions {
		child, err := resolveImage(ctx, part.Image)
		if err != nil {
			return fmt.Errorf("vfat: %w", err)
		}
		target := part.Name

		dirs := strings.Split(target, "/")
		for i := 1; i < len(dirs); i++ {
			path := strings.Join(dirs[:i], "/")
			// mmd fails if the directory already exists; ignored, like the
			// original's unchecked systemp() call for this step.
			_ = ex.Run("", ctx.Tool("mmd"), "-DsS", "-i", img.Outfile, "::"+path)
		}

		displayTarget := target
		if displayTarget == "" {
			displayTarget = child.File
		}
		ctx.Logf("vfat: adding file %q as %q ...\n", child.File, displayTarget)

		if err := ex.Run("", ctx.Tool("mcopy"), "-bsp", "-i", img.Outfile, child.Outfile, "::"+target); err != nil {
			return fmt.Errorf("vfat: %w", err)
		}
	}

	return nil
}
