package handlers

import (
	"fmt"
	"time"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/mdraid"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&mdraidHandler{runTime: time.Now})
}

// mdraidHandler wraps internal/mdraid, grounded on
// _examples/original_source/image-mdraid.c. runTime is overridden in tests
// so the array-creation timestamp every image of a run shares is
// deterministic, matching the original's process-lifetime static
// mdraid_time.
type mdraidHandler struct {
	runTime func() time.Time
}

func (h *mdraidHandler) Type() string     { return "mdraid" }
func (h *mdraidHandler) NoRootpath() bool { return true }

func (h *mdraidHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	level, err := getInt(sec, "level", 1)
	if err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}
	devices, err := getInt(sec, "devices", 2)
	if err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}
	role, err := getInt(sec, "role", -1)
	if err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}
	timestamp, err := getInt(sec, "timestamp", -1)
	if err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}

	opts := mdraid.Options{
		Label:     getString(sec, "label", ""),
		Level:     level,
		Devices:   devices,
		Role:      role,
		Timestamp: int64(timestamp),
		RaidUUID:  getString(sec, "raid-uuid", ""),
		DiskUUID:  getString(sec, "disk-uuid", ""),
		Image:     getString(sec, "image", ""),
		Parent:    getString(sec, "parent", ""),
	}

	if err := mdraid.Parse(img, opts); err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}
	return nil
}

func (h *mdraidHandler) Setup(ctx handler.Context, img *model.Image) error {
	if err := mdraid.Setup(img, ctx.Image); err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}
	return nil
}

func (h *mdraidHandler) Generate(ctx handler.Context, img *model.Image) error {
	if err := mdraid.Generate(img, h.runTime()); err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}
	return nil
}
