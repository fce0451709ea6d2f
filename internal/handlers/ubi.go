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
	handler.Register(&ubiHandler{})
}

type ubiState struct {
	model.HandlerStateBase

	Extraargs string
}

// ubiHandler is grounded on _examples/original_source/image-ubi.c's
// ubi_generate/ubi_setup: each partition becomes one ubinize.ini volume
// stanza naming a sibling image's outfile, then ubinize packs the lot into
// the UBI container.
type ubiHandler struct{}

func (h *ubiHandler) Type() string     { return "ubi" }
func (h *ubiHandler) NoRootpath() bool { return true }

func (h *ubiHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	parts, err := parsePartitions(sec)
	if err != nil {
		return fmt.Errorf("ubi: %w", err)
	}
	img.Partitions = append(img.Partitions, parts...)
	img.HandlerState = &ubiState{Extraargs: getString(sec, "extraargs", "")}
	return nil
}

func (h *ubiHandler) Setup(ctx handler.Context, img *model.Image) error {
	if img.FlashType == nil {
		return fmt.Errorf("ubi: no flash type given")
	}

	autoresize := 0
	for _, part := range img.Partitions {
		if part.Autoresize {
			autoresize++
		}
	}
	if autoresize > 1 {
		return fmt.Errorf("ubi: more than one volume has the autoresize flag set")
	}
	return nil
}

func (h *ubiHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*ubiState)
	if !ok {
		return fmt.Errorf("ubi: image %s has no ubi state", img.File)
	}

	var ini strings.Builder
	for i, part := range img.Partitions {
		child, err := resolveImage(ctx, part.Image)
		if err != nil {
			return fmt.Errorf("ubi: %w", err)
		}
		fmt.Fprintf(&ini, "[%s]\n", part.Name)
		fmt.Fprintf(&ini, "mode=ubi\n")
		fmt.Fprintf(&ini, "image=%s\n", child.Outfile)
		fmt.Fprintf(&ini, "vol_id=%d\n", i)
		fmt.Fprintf(&ini, "vol_size=%d\n", child.Size)
		fmt.Fprintf(&ini, "vol_type=dynamic\n")
		fmt.Fprintf(&ini, "vol_name=%s\n", part.Name)
		fmt.Fprintf(&ini, "autoresize=%t\n", part.Autoresize)
		fmt.Fprintf(&ini, "vol_alignment=1\n")
	}

	tempfile := filepath.Join(ctx.TmpPath(), "ubifs.ini")
	if err := os.WriteFile(tempfile, []byte(ini.String()), 0o644); err != nil {
		return fmt.Errorf("ubi: writing %s: %w", tempfile, err)
	}

	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("ubi: %w", err)
	}

	args := append([]string{
		"-s", fmt.Sprint(img.FlashType.SubPageSize),
		"-O", fmt.Sprint(img.FlashType.VIDHeaderOffset),
		"-p", fmt.Sprint(img.FlashType.PEBSize),
		"-m", fmt.Sprint(img.FlashType.MinimumIOUnitSize),
		"-o", img.Outfile,
		tempfile,
	}, extra...)

	if err := ctx.Executor().Run("", ctx.Tool("ubinize"), args...); err != nil {
		return fmt.Errorf("ubi: %w", err)
	}
	return nil
}
