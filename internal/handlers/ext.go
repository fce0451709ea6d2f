package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&extHandler{typ: "ext2", defaultFeatures: ""})
	handler.Register(&extHandler{typ: "ext3", defaultFeatures: "has_journal"})
	handler.Register(&extHandler{typ: "ext4", defaultFeatures: "extents,uninit_bg,dir_index,has_journal"})
}

type extState struct {
	model.HandlerStateBase

	Extraargs   string
	Features    string
	Label       string
	FsTimestamp string
}

// extHandler implements ext2/ext3/ext4, which share a single generate
// routine in the original. Grounded on
// _examples/original_source/image-ext2.c's ext2_generate/ext2_setup.
type extHandler struct {
	typ             string
	defaultFeatures string
}

func (h *extHandler) Type() string     { return h.typ }
func (h *extHandler) NoRootpath() bool { return false }

func (h *extHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	img.HandlerState = &extState{
		Extraargs:   getString(sec, "extraargs", ""),
		Features:    getString(sec, "features", h.defaultFeatures),
		Label:       getString(sec, "label", ""),
		FsTimestamp: getString(sec, "fs-timestamp", ""),
	}
	return nil
}

func (h *extHandler) Setup(ctx handler.Context, img *model.Image) error {
	if img.Size == 0 {
		return fmt.Errorf("%s: no size given or must not be zero", h.typ)
	}
	return nil
}

func (h *extHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*extState)
	if !ok {
		return fmt.Errorf("%s: image %s has no ext state", h.typ, img.File)
	}
	ex := ctx.Executor()
	src := img.EffectiveSrcDir(ctx.RootPath(), h.NoRootpath())

	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("%s: %w", h.typ, err)
	}
	args := append([]string{"-d", src,
		fmt.Sprintf("--size-in-blocks=%d", img.Size/1024), "-i", "16384", img.Outfile}, extra...)
	if err := ex.Run("", ctx.Tool("genext2fs"), args...); err != nil {
		return fmt.Errorf("%s: %w", h.typ, err)
	}

	if st.Features != "" {
		if err := ex.Run("", ctx.Tool("tune2fs"), "-O", st.Features, img.Outfile); err != nil {
			return fmt.Errorf("%s: %w", h.typ, err)
		}
	}
	if st.Label != "" {
		if err := ex.Run("", ctx.Tool("tune2fs"), "-L", st.Label, img.Outfile); err != nil {
			return fmt.Errorf("%s: %w", h.typ, err)
		}
	}

	// e2fsck exits 1 when it successfully modified the filesystem;
	// ext2_generate only fails above exit code 2. Executor.Run collapses
	// exit status into a bool, so this logs rather than fails the image.
	if err := ex.Run("", ctx.Tool("e2fsck"), "-pvfD", img.Outfile); err != nil {
		ctx.Logf("%s: e2fsck: %v\n", h.typ, err)
	}

	if st.FsTimestamp != "" {
		script := fmt.Sprintf(
			"echo 'set_current_time %s\nset_super_value mkfs_time %s\nset_super_value lastcheck %s\nset_super_value mtime 00000000' | %s -w '%s' > /dev/null",
			st.FsTimestamp, st.FsTimestamp, st.FsTimestamp, ctx.Tool("debugfs"), img.Outfile)
		if err := ex.RunShell("", script, nil); err != nil {
			return fmt.Errorf("%s: %w", h.typ, err)
		}
	}

	return nil
}
