package handlers

import (
	"testing"

	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

func TestExtHandlerDefaultFeaturesPerType(t *testing.T) {
	h2 := &extHandler{typ: "ext2", defaultFeatures: ""}
	h3 := &extHandler{typ: "ext3", defaultFeatures: "has_journal"}
	h4 := &extHandler{typ: "ext4", defaultFeatures: "extents,uninit_bg,dir_index,has_journal"}

	for _, tc := range []struct {
		h    *extHandler
		want string
	}{
		{h2, ""},
		{h3, "has_journal"},
		{h4, "extents,uninit_bg,dir_index,has_journal"},
	} {
		img := &model.Image{}
		require.NoError(t, tc.h.Parse(img, nil))
		st := img.HandlerState.(*extState)
		require.Equal(t, tc.want, st.Features)
	}
}

func TestExtHandlerSetupRejectsZeroSize(t *testing.T) {
	h := &extHandler{typ: "ext4"}
	img := &model.Image{}
	require.NoError(t, h.Parse(img, nil))
	require.Error(t, h.Setup(newFakeCtx(), img))
}

func TestExtHandlerGenerateBuildsArgsAndRunsTools(t *testing.T) {
	h := &extHandler{typ: "ext4", defaultFeatures: "extents"}
	img := &model.Image{File: "rootfs.ext4", Outfile: "/images/rootfs.ext4", Size: 1024 * 1024}
	require.NoError(t, h.Parse(img, sec("label", "rootfs")))
	require.NoError(t, h.Setup(newFakeCtx(), img))

	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, img))

	require.Equal(t, "genext2fs", ctx.ex.runs[0][0])
	require.Contains(t, ctx.ex.runs[0], "--size-in-blocks=1024")
	require.Contains(t, ctx.ex.runs[0], img.Outfile)

	foundTune2fsFeatures, foundTune2fsLabel, foundE2fsck := false, false, false
	for _, run := range ctx.ex.runs {
		if run[0] != "tune2fs" && run[0] != "e2fsck" {
			continue
		}
		if run[0] == "tune2fs" && run[1] == "-O" {
			foundTune2fsFeatures = true
		}
		if run[0] == "tune2fs" && run[1] == "-L" {
			foundTune2fsLabel = true
		}
		if run[0] == "e2fsck" {
			foundE2fsck = true
		}
	}
	require.True(t, foundTune2fsFeatures)
	require.True(t, foundTune2fsLabel)
	require.True(t, foundE2fsck)
}

func TestExtHandlerGenerateToleratesE2fsckFailure(t *testing.T) {
	h := &extHandler{typ: "ext2"}
	img := &model.Image{File: "a.ext2", Outfile: "/images/a.ext2", Size: 4096}
	require.NoError(t, h.Parse(img, nil))
	require.NoError(t, h.Setup(newFakeCtx(), img))

	ctx := newFakeCtx()
	ctx.ex.failNames["e2fsck"] = true
	require.NoError(t, h.Generate(ctx, img))
}
