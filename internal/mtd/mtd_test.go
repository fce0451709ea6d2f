package mtd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

func flashType() *model.FlashType {
	return &model.FlashType{Name: "nand", PEBSize: 128 * 1024, NumPEBs: 100}
}

func TestLayoutFillsLastPartitionWithRemainingSpace(t *testing.T) {
	img := &model.Image{Name: "flash0", FlashType: flashType()}
	img.Partitions = []*model.Partition{
		{Name: "barebox", Size: 512 * 1024},
		{Name: "rootfs"},
	}

	require.NoError(t, Layout(img))
	require.Equal(t, flashType().PEBSize*flashType().NumPEBs-512*1024, img.Partitions[1].Size)
}

func TestLayoutRejectsSecondZeroSizedPartition(t *testing.T) {
	img := &model.Image{Name: "flash0", FlashType: flashType()}
	img.Partitions = []*model.Partition{
		{Name: "a"},
		{Name: "b"},
	}

	err := Layout(img)
	require.Error(t, err)
}

func TestLayoutRejectsOversizedPartitions(t *testing.T) {
	img := &model.Image{Name: "flash0", FlashType: flashType()}
	img.Partitions = []*model.Partition{
		{Name: "huge", Size: flashType().PEBSize*flashType().NumPEBs + 1},
	}

	err := Layout(img)
	require.Error(t, err)
}

func TestGenerateRejectsChildImageLargerThanPartition(t *testing.T) {
	dir := t.TempDir()
	outfile := filepath.Join(dir, "rootfs.ubi")
	require.NoError(t, os.WriteFile(outfile, make([]byte, 2048), 0o644))

	child := &model.Image{Name: "rootfs", File: "rootfs.ubi", Outfile: outfile}
	img := &model.Image{Name: "flash0", FlashType: flashType()}
	img.Partitions = []*model.Partition{
		{Name: "rootfs-part", Image: "rootfs", Size: 1024},
	}

	lookup := func(file string) (*model.Image, bool) {
		if file == "rootfs" {
			return child, true
		}
		return nil, false
	}

	err := Generate(img, lookup)
	require.Error(t, err)
}

func TestGenerateAcceptsChildImageWithinPartition(t *testing.T) {
	dir := t.TempDir()
	outfile := filepath.Join(dir, "rootfs.ubi")
	require.NoError(t, os.WriteFile(outfile, make([]byte, 512), 0o644))

	child := &model.Image{Name: "rootfs", File: "rootfs.ubi", Outfile: outfile}
	img := &model.Image{Name: "flash0", FlashType: flashType()}
	img.Partitions = []*model.Partition{
		{Name: "rootfs-part", Image: "rootfs", Size: 1024},
	}

	lookup := func(file string) (*model.Image, bool) {
		if file == "rootfs" {
			return child, true
		}
		return nil, false
	}

	require.NoError(t, Generate(img, lookup))
}
