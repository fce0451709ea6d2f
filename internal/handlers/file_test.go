package handlers

import (
	"testing"

	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

func TestFileHandlerParseDefaultsNameToImageFile(t *testing.T) {
	h := &fileHandler{}
	img := &model.Image{File: "rootfs.img"}
	require.NoError(t, h.Parse(img, nil))
	require.NoError(t, h.Setup(newFakeCtx(), img))

	st, ok := img.HandlerState.(*fileState)
	require.True(t, ok)
	require.Equal(t, "rootfs.img", st.Name)
}

func TestFileHandlerParseHonorsExplicitName(t *testing.T) {
	h := &fileHandler{}
	img := &model.Image{File: "rootfs.img"}
	require.NoError(t, h.Parse(img, sec("name", "upstream.bin")))
	require.NoError(t, h.Setup(newFakeCtx(), img))

	st := img.HandlerState.(*fileState)
	require.Equal(t, "upstream.bin", st.Name)
}

func TestFileHandlerGenerateCopiesFromInputPath(t *testing.T) {
	h := &fileHandler{}
	img := &model.Image{File: "rootfs.img", Outfile: "/images/rootfs.img"}
	require.NoError(t, h.Parse(img, nil))
	require.NoError(t, h.Setup(newFakeCtx(), img))

	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, img))

	require.Len(t, ctx.ex.runs, 1)
	require.Equal(t, []string{"cp", "/input/rootfs.img", "/images/rootfs.img"}, ctx.ex.runs[0])
}
