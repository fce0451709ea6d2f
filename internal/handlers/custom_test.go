package handlers

import (
	"path/filepath"
	"testing"

	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

func TestCustomHandlerParseMarksEmptyWithoutMountpoint(t *testing.T) {
	h := &customHandler{}
	img := &model.Image{File: "out.bin"}
	require.NoError(t, h.Parse(img, sec("exec", "touch $IMAGEOUTFILE")))
	require.True(t, img.Empty)
}

func TestCustomHandlerParseKeepsMountpointNonEmpty(t *testing.T) {
	h := &customHandler{}
	img := &model.Image{File: "out.bin", Mountpoint: "boot"}
	require.NoError(t, h.Parse(img, sec("exec", "touch $IMAGEOUTFILE")))
	require.False(t, img.Empty)
}

func TestCustomHandlerSetupRequiresExec(t *testing.T) {
	h := &customHandler{}
	img := &model.Image{File: "out.bin"}
	require.NoError(t, h.Parse(img, nil))
	require.Error(t, h.Setup(newFakeCtx(), img))
}

func TestCustomHandlerGenerateRunsExecAndKeepsConfiguredSize(t *testing.T) {
	h := &customHandler{}
	outfile := filepath.Join(t.TempDir(), "out.bin")
	img := &model.Image{File: "out.bin", Outfile: outfile, Size: 4096}
	require.NoError(t, h.Parse(img, sec("exec", "true")))
	require.NoError(t, h.Setup(newFakeCtx(), img))

	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, img))

	require.Len(t, ctx.ex.shells, 1)
	require.Equal(t, uint64(4096), img.Size)
}
