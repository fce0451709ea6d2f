package gpt

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pengutronix/genimage/internal/fileio"
	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

func TestWriterPlainMBRProducesBootSignature(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "disk.img")

	img := &model.Image{File: "disk.img", Outfile: out}
	img.Partitions = []*model.Partition{
		{Name: "boot", Size: 1024 * 1024, InPartitionTable: true, PartitionType: 0x83, Align: 512},
	}
	opts := Options{Align: 512, PartitionTable: true}

	resolved, err := Layout(img, opts, noLookup)
	require.NoError(t, err)

	require.NoError(t, fileio.PrepareImage(out, img.Size))

	w := &Writer{Outfile: out, Opts: opts, Resolved: resolved, Lookup: noLookup}
	require.NoError(t, w.Generate(img))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 512)
	require.Equal(t, byte(0x55), data[510])
	require.Equal(t, byte(0xaa), data[511])

	sig := binary.LittleEndian.Uint32(data[440:444])
	require.Equal(t, resolved.DiskSignature, sig)
}

func TestWriterGPTWritesSignatureAtSector1(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "disk.img")

	img := &model.Image{File: "disk.img", Outfile: out, Size: 8 * 1024 * 1024}
	img.Partitions = []*model.Partition{
		{Name: "esp", Size: 1024 * 1024, InPartitionTable: true, PartitionTypeUUID: "U", Align: 1024 * 1024},
	}
	opts := Options{Align: 1024 * 1024, PartitionTable: true, GPT: true}

	resolved, err := Layout(img, opts, noLookup)
	require.NoError(t, err)
	require.NoError(t, fileio.PrepareImage(out, img.Size))

	w := &Writer{Outfile: out, Opts: opts, Resolved: resolved, Lookup: noLookup}
	require.NoError(t, w.Generate(img))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "EFI PART", string(data[SectorSize:SectorSize+8]))
}
