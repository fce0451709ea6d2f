package stage

import (
	"fmt"
	"testing"

	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	calls [][]string
}

func (f *fakeExecutor) Run(dir string, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	return nil
}

func (f *fakeExecutor) RunShell(dir string, script string, env []string) error {
	return fmt.Errorf("unexpected shell call: %s", script)
}

func TestCollectFromImagesRegistersDistinctMountpoints(t *testing.T) {
	s := New("/tmp/genimage-work")
	images := []*model.Image{
		{File: "a.img", Mountpoint: "/boot"},
		{File: "b.img", Mountpoint: "/boot"},
		{File: "c.img"},
	}
	s.CollectFromImages(images)

	require.NotNil(t, images[0].MP)
	require.Same(t, images[0].MP, images[1].MP)
	require.Nil(t, images[2].MP)

	mp, ok := s.Get("/boot")
	require.True(t, ok)
	require.Equal(t, "/tmp/genimage-work/mp-boot", mp.MountPath)
}

func TestRootMountpointUsesRootDir(t *testing.T) {
	s := New("/tmp/genimage-work")
	root := s.Root()
	require.Equal(t, "/tmp/genimage-work/root", root.MountPath)
}

func TestBuildSequencesCopyMoveAndReferencePreservation(t *testing.T) {
	s := New("/tmp/genimage-work")
	s.Add("/boot")

	ex := &fakeExecutor{}
	err := s.Build(ex, "/src/root")
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(ex.calls), 2)
	require.Equal(t, []string{"mkdir", "-p", "/tmp/genimage-work"}, ex.calls[0])
	require.Equal(t, []string{"cp", "-a", "/src/root", "/tmp/genimage-work/root"}, ex.calls[1])
}
