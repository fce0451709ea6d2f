package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/gpt"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&hdimageHandler{})
}

type hdimageState struct {
	model.HandlerStateBase

	Opts     gpt.Options
	Resolved *gpt.Resolved
}

// hdimageHandler wraps internal/gpt, genimage's partition-table engine,
// grounded on _examples/original_source/image-hd.c.
type hdimageHandler struct{}

func (h *hdimageHandler) Type() string     { return "hdimage" }
func (h *hdimageHandler) NoRootpath() bool { return false }

func (h *hdimageHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	opts, err := hdimageOpts(sec)
	if err != nil {
		return fmt.Errorf("hdimage: %w", err)
	}

	parts, err := parsePartitions(sec)
	if err != nil {
		return fmt.Errorf("hdimage: %w", err)
	}
	img.Partitions = append(img.Partitions, parts...)

	img.HandlerState = &hdimageState{Opts: opts}
	return nil
}

func (h *hdimageHandler) Setup(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*hdimageState)
	if !ok {
		return fmt.Errorf("hdimage: image %s has no hdimage state", img.File)
	}

	resolved, err := gpt.Layout(img, st.Opts, ctx.Image)
	if err != nil {
		return fmt.Errorf("hdimage: %w", err)
	}
	st.Resolved = resolved
	return nil
}

func (h *hdimageHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*hdimageState)
	if !ok {
		return fmt.Errorf("hdimage: image %s has no hdimage state", img.File)
	}

	w := &gpt.Writer{
		Outfile:  img.Outfile,
		Opts:     st.Opts,
		Resolved: st.Resolved,
		Lookup:   ctx.Image,
	}
	if err := w.Generate(img); err != nil {
		return fmt.Errorf("hdimage: %w", err)
	}
	return nil
}

func hdimageOpts(sec *cfgfile.Section) (gpt.Options, error) {
	align, err := getSize(sec, "align")
	if err != nil {
		return gpt.Options{}, err
	}
	if align == 0 {
		align = 512
	}

	partitionTable, err := getBool(sec, "partition-table", true)
	if err != nil {
		return gpt.Options{}, err
	}
	extendedPartition, err := getInt(sec, "extended-partition", 0)
	if err != nil {
		return gpt.Options{}, err
	}
	gptEnabled, err := getBool(sec, "gpt", false)
	if err != nil {
		return gpt.Options{}, err
	}
	gptLocation, err := getSize(sec, "gpt-location")
	if err != nil {
		return gpt.Options{}, err
	}
	gptNoBackup, err := getBool(sec, "gpt-no-backup", false)
	if err != nil {
		return gpt.Options{}, err
	}
	fill, err := getBool(sec, "fill", false)
	if err != nil {
		return gpt.Options{}, err
	}

	return gpt.Options{
		Align:             align,
		PartitionTable:    partitionTable,
		ExtendedPartition: extendedPartition,
		DiskSignature:     getString(sec, "disk-signature", ""),
		DiskUUID:          getString(sec, "disk-uuid", ""),
		GPT:               gptEnabled,
		GPTLocation:       gptLocation,
		GPTNoBackup:       gptNoBackup,
		Fill:              fill,
	}, nil
}
