package mdraid

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

func newImage(name string, size uint64) *model.Image {
	return &model.Image{Name: name, File: name, Size: size}
}

func TestParseRejectsUnsupportedRaidLevel(t *testing.T) {
	img := newImage("md0", 0)
	err := Parse(img, Options{Level: 5})
	require.Error(t, err)
}

func TestParseRegistersDataAndParentDependencies(t *testing.T) {
	img := newImage("md0", 0)
	require.NoError(t, Parse(img, Options{Level: 1, Image: "rootfs.img", Parent: "md-master"}))

	var names []string
	for _, p := range img.Partitions {
		names = append(names, p.Image)
	}
	require.ElementsMatch(t, []string{"rootfs.img", "md-master"}, names)
}

func TestSetupComputesAlignedSizeFromDataImage(t *testing.T) {
	img := newImage("md0", 0)
	require.NoError(t, Parse(img, Options{Level: 1, Image: "rootfs.img"}))

	data := newImage("rootfs.img", 10*1024*1024+1)
	lookup := func(name string) (*model.Image, bool) {
		if name == "rootfs.img" {
			return data, true
		}
		return nil, false
	}

	require.NoError(t, Setup(img, lookup))
	require.Equal(t, uint64(0), img.Size%alignBytes)
	require.GreaterOrEqual(t, img.Size, data.Size+dataOffsetBytes)
}

func TestSetupRejectsDataImageLargerThanExplicitSize(t *testing.T) {
	img := newImage("md0", alignBytes)
	require.NoError(t, Parse(img, Options{Level: 1, Image: "rootfs.img"}))

	data := newImage("rootfs.img", 10*1024*1024)
	lookup := func(name string) (*model.Image, bool) {
		return data, true
	}

	err := Setup(img, lookup)
	require.Error(t, err)
}

func readSuperblock(t *testing.T, path string, offset int64) superblock1 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Seek(offset, 0)
	require.NoError(t, err)
	var sb superblock1
	require.NoError(t, binary.Read(f, binary.LittleEndian, &sb))
	return sb
}

func TestGenerateWritesValidSuperblockWithoutData(t *testing.T) {
	dir := t.TempDir()
	outfile := filepath.Join(dir, "md0.img")

	img := newImage("md0", 4*1024*1024)
	img.Outfile = outfile
	require.NoError(t, Parse(img, Options{Level: 1, Devices: 2, Role: 0, Timestamp: 1700000000, Label: "test:0"}))

	require.NoError(t, Generate(img, time.Unix(1700000000, 0)))

	st, ok := img.HandlerState.(*State)
	require.True(t, ok)
	require.NotNil(t, st.Superblock)
	require.Equal(t, uint32(sbMagic), st.Superblock.Magic)
	require.Equal(t, uint32(0), st.Superblock.DevNumber)

	sb := readSuperblock(t, outfile, 8*512)
	require.Equal(t, uint32(sbMagic), sb.Magic)
	require.Equal(t, uint32(1), sb.MajorVersion)

	require.Equal(t, calcChecksum(&sb, st.DevRoles[:len(st.DevRoles)]), sb.SbCsum)
}

func TestGenerateRejectsRoleBeyondDeviceCount(t *testing.T) {
	dir := t.TempDir()
	outfile := filepath.Join(dir, "md0.img")

	img := newImage("md0", 4*1024*1024)
	img.Outfile = outfile
	require.NoError(t, Parse(img, Options{Level: 1, Devices: 2, Role: 5}))

	err := Generate(img, time.Unix(1700000000, 0))
	require.Error(t, err)
}

func TestGenerateChildInheritsParentSuperblockAndIncrementsRole(t *testing.T) {
	dir := t.TempDir()
	masterOut := filepath.Join(dir, "md-master.img")
	slaveOut := filepath.Join(dir, "md-slave.img")

	master := newImage("md-master", 4*1024*1024)
	master.Outfile = masterOut
	require.NoError(t, Parse(master, Options{Level: 1, Devices: 2, Role: 0, Label: "test:0"}))
	require.NoError(t, Generate(master, time.Unix(1700000000, 0)))

	slave := newImage("md-slave", 0)
	slave.Outfile = slaveOut
	require.NoError(t, Parse(slave, Options{Level: 1, Role: -1, Parent: "md-master"}))

	lookup := func(name string) (*model.Image, bool) {
		if name == "md-master" {
			return master, true
		}
		return nil, false
	}
	require.NoError(t, Setup(slave, lookup))
	require.NoError(t, Generate(slave, time.Unix(1700000000, 0)))

	slaveState := slave.HandlerState.(*State)
	require.Equal(t, uint32(1), slaveState.Superblock.DevNumber)
	require.True(t, bytes.Equal(slaveState.Superblock.SetUUID[:], master.HandlerState.(*State).Superblock.SetUUID[:]))
}
