package cfgfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseImageWithPartitions(t *testing.T) {
	src := `
image "disk.img" {
	name = "disk"
	size = 4M
	hdimage {
		partition-table-type = "mbr"
		disk-signature = 0x12345678
	}
	partition one {
		offset = 1M
		size = 1M
		image = "a.bin"
		partition-type = 0x83
	}
}
flash nand0 {
	pebsize = 128K
	lebsize = 126K
}
config {
	tmppath = "/tmp/x"
}
`
	doc, err := Parse(src, nil)
	require.NoError(t, err)

	images := doc.Top.All("image")
	require.Len(t, images, 1)
	img := images[0]
	require.Equal(t, "disk.img", img.Title)

	size, ok := img.Get("size")
	require.True(t, ok)
	require.Equal(t, "4M", size)

	hd, ok := img.One("hdimage")
	require.True(t, ok)
	v, ok := hd.Get("partition-table-type")
	require.True(t, ok)
	require.Equal(t, "mbr", v)

	parts := img.All("partition")
	require.Len(t, parts, 1)
	require.Equal(t, "one", parts[0].Title)
	off, _ := parts[0].Get("offset")
	require.Equal(t, "1M", off)

	flashes := doc.Top.All("flash")
	require.Len(t, flashes, 1)
	require.Equal(t, "nand0", flashes[0].Title)

	cfgs := doc.Top.All("config")
	require.Len(t, cfgs, 1)
	tmp, _ := cfgs[0].Get("tmppath")
	require.Equal(t, "/tmp/x", tmp)
}

func TestInclude(t *testing.T) {
	resolver := func(path string) (string, error) {
		require.Equal(t, "extra.cfg", path)
		return `image "b.img" { size = 1M file {} }`, nil
	}

	src := `
include "extra.cfg"
image "a.img" { size = 2M file {} }
`
	doc, err := Parse(src, resolver)
	require.NoError(t, err)
	require.Len(t, doc.Top.All("image"), 2)
}

func TestUnterminatedSectionError(t *testing.T) {
	_, err := Parse(`image "a" { size = 1M`, nil)
	require.Error(t, err)
}
