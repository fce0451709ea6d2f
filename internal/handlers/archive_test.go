package handlers

import (
	"strings"
	"testing"

	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

func TestCpioHandlerGenerateBuildsPipeline(t *testing.T) {
	h := &cpioHandler{}
	img := &model.Image{File: "rootfs.cpio", Outfile: "/images/rootfs.cpio"}
	require.NoError(t, h.Parse(img, sec("format", "newc", "compress", "gzip")))

	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, img))

	require.Len(t, ctx.ex.shells, 1)
	require.Contains(t, ctx.ex.shells[0], "cpio")
	require.Contains(t, ctx.ex.shells[0], "gzip")
	require.Contains(t, ctx.ex.shells[0], img.Outfile)
}

func TestCpioHandlerGenerateWithoutCompressOmitsPipe(t *testing.T) {
	h := &cpioHandler{}
	img := &model.Image{File: "rootfs.cpio", Outfile: "/images/rootfs.cpio"}
	require.NoError(t, h.Parse(img, nil))

	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, img))

	require.Len(t, ctx.ex.shells, 1)
	// The only pipe left is the fixed "find . | cpio" one.
	require.Equal(t, 1, strings.Count(ctx.ex.shells[0], "|"))
}

func TestTarHandlerGeneratePicksCompressionFromSuffix(t *testing.T) {
	h := &tarHandler{}

	gz := &model.Image{File: "rootfs.tar.gz", Outfile: "/images/rootfs.tar.gz"}
	require.NoError(t, h.Parse(gz, nil))
	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, gz))
	require.Equal(t, "tar", ctx.ex.runs[0][0])
	require.Equal(t, "cz", ctx.ex.runs[0][1])

	bz2 := &model.Image{File: "rootfs.tar.bz2", Outfile: "/images/rootfs.tar.bz2"}
	require.NoError(t, h.Parse(bz2, nil))
	ctx2 := newFakeCtx()
	require.NoError(t, h.Generate(ctx2, bz2))
	require.Equal(t, "cj", ctx2.ex.runs[0][1])

	plain := &model.Image{File: "rootfs.tar", Outfile: "/images/rootfs.tar"}
	require.NoError(t, h.Parse(plain, nil))
	ctx3 := newFakeCtx()
	require.NoError(t, h.Generate(ctx3, plain))
	require.Equal(t, "c", ctx3.ex.runs[0][1])
}

func TestTarHandlerGenerateUsesEffectiveSrcDir(t *testing.T) {
	h := &tarHandler{}
	img := &model.Image{File: "rootfs.tar", Outfile: "/images/rootfs.tar", Srcpath: "/stage/custom"}
	require.NoError(t, h.Parse(img, nil))

	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, img))
	require.Contains(t, ctx.ex.runs[0], "/stage/custom")
}

func TestIsoHandlerGenerateWithBootImageAddsBootargs(t *testing.T) {
	h := &isoHandler{}
	img := &model.Image{File: "cd.iso", Outfile: "/images/cd.iso"}
	require.NoError(t, h.Parse(img, sec("boot-image", "isolinux/isolinux.bin", "volume-id", "ROOTFS")))

	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, img))

	run := ctx.ex.runs[0]
	require.Equal(t, "genisoimage", run[0])
	require.Contains(t, run, "-b")
	require.Contains(t, run, "isolinux/isolinux.bin")
	require.Contains(t, run, "-boot-info-table")
	require.Contains(t, run, "-V")
	require.Contains(t, run, "ROOTFS")
	require.Equal(t, img.Outfile, run[len(run)-2])
}

func TestIsoHandlerGenerateWithoutBootImageSkipsBootargs(t *testing.T) {
	h := &isoHandler{}
	img := &model.Image{File: "cd.iso", Outfile: "/images/cd.iso"}
	require.NoError(t, h.Parse(img, nil))

	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, img))

	run := ctx.ex.runs[0]
	require.NotContains(t, run, "-b")
}

func TestIsoHandlerGenerateAppendsExtraargs(t *testing.T) {
	h := &isoHandler{}
	img := &model.Image{File: "cd.iso", Outfile: "/images/cd.iso"}
	require.NoError(t, h.Parse(img, sec("extraargs", "-J -joliet-long")))

	ctx := newFakeCtx()
	require.NoError(t, h.Generate(ctx, img))

	run := ctx.ex.runs[0]
	require.Contains(t, run, "-J")
	require.Contains(t, run, "-joliet-long")
}
