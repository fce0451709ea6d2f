package handlers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pengutronix/genimage/internal/model"
	"github.com/pengutronix/genimage/internal/stage"
	"github.com/stretchr/testify/require"
)

func TestFitHandlerParseAddsItsPartition(t *testing.T) {
	h := &fitHandler{}
	img := &model.Image{File: "kernel.itb"}
	require.NoError(t, h.Parse(img, sec("its", "kernel.its", "keydir", "/keys")))

	var found bool
	for _, p := range img.Partitions {
		if p.Name == "its" {
			found = true
			require.Equal(t, "kernel.its", p.Image)
		}
	}
	require.True(t, found)
}

func TestFitHandlerGenerateAssemblesItsAndRunsMkimage(t *testing.T) {
	h := &fitHandler{}
	tmp := t.TempDir()
	img := &model.Image{File: "kernel.itb", Outfile: filepath.Join(tmp, "kernel.itb")}
	require.NoError(t, h.Parse(img, sec("its", "kernel.its")))
	img.Partitions = append(img.Partitions, &model.Partition{Name: "kernel", Image: "zImage"})

	itsSrc := filepath.Join(tmp, "kernel.its.in")
	require.NoError(t, os.WriteFile(itsSrc, []byte("/dts-v1/;\n/ {};\n"), 0o644))

	ctx := newFakeCtx()
	ctx.tmp = tmp
	ctx.addImage(&model.Image{File: "kernel.its", Outfile: itsSrc})
	ctx.addImage(&model.Image{File: "zImage", Outfile: filepath.Join(tmp, "zImage")})

	require.NoError(t, h.Generate(ctx, img))

	assembled, err := os.ReadFile(filepath.Join(tmp, "fit.its"))
	require.NoError(t, err)
	require.Contains(t, string(assembled), "/dts-v1/;")
	require.Contains(t, string(assembled), "kernel")

	require.Equal(t, "mkimage", ctx.ex.runs[0][0])
	require.Equal(t, img.Outfile, ctx.ex.runs[0][len(ctx.ex.runs[0])-1])
}

func TestFitHandlerGenerateRejectsRelativeKeydir(t *testing.T) {
	h := &fitHandler{}
	tmp := t.TempDir()
	img := &model.Image{File: "kernel.itb", Outfile: filepath.Join(tmp, "kernel.itb")}
	require.NoError(t, h.Parse(img, sec("its", "kernel.its", "keydir", "relative/keys")))

	itsSrc := filepath.Join(tmp, "kernel.its.in")
	require.NoError(t, os.WriteFile(itsSrc, []byte("/dts-v1/;\n"), 0o644))

	ctx := newFakeCtx()
	ctx.tmp = tmp
	ctx.addImage(&model.Image{File: "kernel.its", Outfile: itsSrc})

	err := h.Generate(ctx, img)
	require.Error(t, err)
}

func TestFipHandlerParseCollectsNamedSlotsAndTosFw(t *testing.T) {
	h := &fipHandler{}
	img := &model.Image{File: "fip.bin"}
	require.NoError(t, h.Parse(img, sec(
		"tos-fw", "bl32.bin",
		"soc-fw", "bl31.bin",
		"nt-fw", "bl33.bin",
	)))

	names := map[string]string{}
	for _, p := range img.Partitions {
		names[p.Name] = p.Image
	}
	require.Equal(t, "bl32.bin", names["tos-fw"])
	require.Equal(t, "bl31.bin", names["soc-fw"])
	require.Equal(t, "bl33.bin", names["nt-fw"])
}

func TestFipHandlerParseRejectsTooManyTosFw(t *testing.T) {
	h := &fipHandler{}
	img := &model.Image{File: "fip.bin"}
	err := h.Parse(img, sec("tos-fw", "a", "tos-fw", "b", "tos-fw", "c", "tos-fw", "d"))
	require.Error(t, err)
}

func TestFipHandlerGenerateBuildsNamedArgs(t *testing.T) {
	h := &fipHandler{}
	img := &model.Image{File: "fip.bin", Outfile: "/images/fip.bin"}
	require.NoError(t, h.Parse(img, sec("soc-fw", "bl31.bin")))

	ctx := newFakeCtx()
	ctx.addImage(&model.Image{File: "bl31.bin", Outfile: "/images/bl31.bin"})
	require.NoError(t, h.Generate(ctx, img))

	run := ctx.ex.runs[0]
	require.Equal(t, "fiptool", run[0])
	require.Equal(t, "create", run[1])
	require.Contains(t, run, "--soc-fw")
	require.Contains(t, run, "/images/bl31.bin")
	require.Equal(t, img.Outfile, run[len(run)-1])
}

func TestRaucHandlerParseRequiresKeyAndCert(t *testing.T) {
	h := &raucHandler{}
	img := &model.Image{File: "update.raucb"}
	require.Error(t, h.Parse(img, sec("cert", "cert.pem")))
	require.Error(t, h.Parse(img, sec("key", "key.pem")))
	require.NoError(t, h.Parse(img, sec("key", "key.pem", "cert", "cert.pem")))
}

func TestRaucHandlerParseSkipsPkcs11KeyAsPartition(t *testing.T) {
	h := &raucHandler{}
	img := &model.Image{File: "update.raucb"}
	require.NoError(t, h.Parse(img, sec("key", "pkcs11:token=foo", "cert", "cert.pem")))

	st := img.HandlerState.(*raucState)
	for _, p := range st.Parts {
		require.NotEqual(t, raucRoleKey, p.role)
	}
}

func TestRaucHandlerSetupRequiresManifest(t *testing.T) {
	h := &raucHandler{}
	img := &model.Image{File: "update.raucb"}
	require.NoError(t, h.Parse(img, sec("key", "key.pem", "cert", "cert.pem")))
	require.Error(t, h.Setup(newFakeCtx(), img))
}

func TestRaucHandlerGenerateStagesFilesAndBundles(t *testing.T) {
	h := &raucHandler{}
	tmp := t.TempDir()
	img := &model.Image{File: "update.raucb", Outfile: filepath.Join(tmp, "update.raucb")}
	require.NoError(t, h.Parse(img, sec(
		"key", "key.pem", "cert", "cert.pem", "manifest", "[update]\nversion=1\n",
		"files", "rootfs.img",
	)))
	require.NoError(t, h.Setup(newFakeCtx(), img))

	tmpdir := filepath.Join(tmp, "rauc-"+stage.Sanitize(img.File))
	require.NoError(t, os.MkdirAll(tmpdir, 0o755))

	ctx := newFakeCtx()
	ctx.tmp = tmp
	ctx.addImage(&model.Image{File: "key.pem", Outfile: "/images/key.pem"})
	ctx.addImage(&model.Image{File: "cert.pem", Outfile: "/images/cert.pem"})
	ctx.addImage(&model.Image{File: "rootfs.img", Outfile: "/images/rootfs.img"})

	require.NoError(t, h.Generate(ctx, img))

	manifest, err := os.ReadFile(filepath.Join(tmpdir, "manifest.raucm"))
	require.NoError(t, err)
	require.Contains(t, string(manifest), "version=1")

	var bundled bool
	for _, run := range ctx.ex.runs {
		if run[0] == "rauc" && run[1] == "bundle" {
			bundled = true
			require.Contains(t, run, "--cert=/images/cert.pem")
			require.Contains(t, run, "--key=/images/key.pem")
		}
	}
	require.True(t, bundled)
}

func TestUbiHandlerSetupRequiresFlashType(t *testing.T) {
	h := &ubiHandler{}
	img := &model.Image{}
	require.NoError(t, h.Parse(img, nil))
	require.Error(t, h.Setup(newFakeCtx(), img))
}

func TestUbiHandlerSetupRejectsMultipleAutoresize(t *testing.T) {
	h := &ubiHandler{}
	img := &model.Image{FlashType: &model.FlashType{}}
	require.NoError(t, h.Parse(img, nil))
	img.Partitions = []*model.Partition{
		{Name: "a", Autoresize: true},
		{Name: "b", Autoresize: true},
	}
	require.Error(t, h.Setup(newFakeCtx(), img))
}

func TestUbiHandlerGenerateWritesIniAndRunsUbinize(t *testing.T) {
	h := &ubiHandler{}
	tmp := t.TempDir()
	img := &model.Image{File: "rootfs.ubi", Outfile: filepath.Join(tmp, "rootfs.ubi"),
		FlashType: &model.FlashType{SubPageSize: 512, VIDHeaderOffset: 2048, PEBSize: 128 * 1024, MinimumIOUnitSize: 2048}}
	require.NoError(t, h.Parse(img, nil))
	img.Partitions = []*model.Partition{{Name: "rootfs", Image: "rootfs.ubifs"}}

	ctx := newFakeCtx()
	ctx.tmp = tmp
	ctx.addImage(&model.Image{File: "rootfs.ubifs", Outfile: "/images/rootfs.ubifs", Size: 4096})
	require.NoError(t, h.Generate(ctx, img))

	ini, err := os.ReadFile(filepath.Join(tmp, "ubifs.ini"))
	require.NoError(t, err)
	require.Contains(t, string(ini), "[rootfs]")
	require.Contains(t, string(ini), "vol_size=4096")

	require.Equal(t, "ubinize", ctx.ex.runs[0][0])
	require.Contains(t, ctx.ex.runs[0], "-p")
}

func TestQemuHandlerSetupRequiresAtLeastOnePartition(t *testing.T) {
	h := &qemuHandler{}
	img := &model.Image{}
	require.NoError(t, h.Parse(img, nil))
	require.Error(t, h.Setup(newFakeCtx(), img))
}

func TestQemuHandlerGenerateConvertsPartitions(t *testing.T) {
	h := &qemuHandler{}
	img := &model.Image{File: "disk.qcow2", Outfile: "/images/disk.qcow2"}
	require.NoError(t, h.Parse(img, sec("format", "qcow2")))
	img.Partitions = []*model.Partition{{Name: "root", Image: "rootfs.img"}}
	require.NoError(t, h.Setup(newFakeCtx(), img))

	ctx := newFakeCtx()
	ctx.addImage(&model.Image{File: "rootfs.img", Outfile: "/images/rootfs.img"})
	require.NoError(t, h.Generate(ctx, img))

	run := ctx.ex.runs[0]
	require.Equal(t, "qemuimg", run[0])
	require.Equal(t, "convert", run[1])
	require.Contains(t, run, "-O")
	require.Contains(t, run, "qcow2")
	require.Contains(t, run, "/images/rootfs.img")
	require.Equal(t, img.Outfile, run[len(run)-1])
}
