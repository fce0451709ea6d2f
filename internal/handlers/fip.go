package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

func init() {
	handler.Register(&fipHandler{})
}

// fipOptNames lists every CFGF_NODEFAULT single-file option fip_opts
// declares; each becomes its own partition named after the option when
// set, matching fip_parse's loop over fip_opts.
var fipOptNames = []string{
	"scp-fwu-cfg", "ap-fwu-cfg", "fwu", "fwu-cert",
	"tb-fw", "scp-fw", "soc-fw", "nt-fw",
	"fw-config", "hw-config", "tb-fw-config", "soc-fw-config",
	"tos-fw-config", "nt-fw-config",
	"rot-cert",
	"trusted-key-cert", "scp-fw-key-cert", "soc-fw-key-cert", "tos-fw-key-cert", "nt-fw-key-cert",
	"tb-fw-cert", "scp-fw-cert", "soc-fw-cert", "tos-fw-cert", "nt-fw-cert",
	"sip-sp-cert", "plat-sp-cert",
}

// tosFwNames are the up-to-3 positional names fip_generate gives the
// repeated "tos-fw" list entries.
var tosFwNames = []string{"tos-fw", "tos-fw-extra1", "tos-fw-extra2"}

type fipState struct {
	model.HandlerStateBase

	Extraargs string
}

// fipHandler is grounded on _examples/original_source/image-fip.c's
// fip_generate/fip_parse: every firmware slot TF-A's fiptool understands
// becomes a "--<name> <file>" argument built from a partition of the same
// name.
type fipHandler struct{}

func (h *fipHandler) Type() string     { return "fip" }
func (h *fipHandler) NoRootpath() bool { return true }

func (h *fipHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	tosFw := getAll(sec, "tos-fw")
	if len(tosFw) > len(tosFwNames) {
		return fmt.Errorf("fip: %d tos-fw binaries given, but maximum is %d", len(tosFw), len(tosFwNames))
	}
	for i, file := range tosFw {
		img.Partitions = append(img.Partitions, &model.Partition{Name: tosFwNames[i], Image: file})
	}

	for _, name := range fipOptNames {
		file := getString(sec, name, "")
		if file != "" {
			img.Partitions = append(img.Partitions, &model.Partition{Name: name, Image: file})
		}
	}

	img.HandlerState = &fipState{Extraargs: getString(sec, "extraargs", "")}
	return nil
}

func (h *fipHandler) Setup(ctx handler.Context, img *model.Image) error {
	return nil
}

func (h *fipHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*fipState)
	if !ok {
		return fmt.Errorf("fip: image %s has no fip state", img.File)
	}

	var args []string
	for _, part := range img.Partitions {
		child, err := resolveImage(ctx, part.Image)
		if err != nil {
			return fmt.Errorf("fip: %w", err)
		}
		args = append(args, "--"+part.Name, child.Outfile)
	}
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("fip: %w", err)
	}
	args = append(args, extra...)
	args = append(args, img.Outfile)

	full := append([]string{"create"}, args...)
	if err := ctx.Executor().Run("", ctx.Tool("fiptool"), full...); err != nil {
		return fmt.Errorf("fip: %w", err)
	}
	return nil
}
