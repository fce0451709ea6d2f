package verity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	calls [][]string
	run   func(name string, args []string) error
}

func (f *fakeExecutor) Run(dir string, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.run != nil {
		return f.run(name, args)
	}
	return nil
}

func (f *fakeExecutor) RunShell(dir string, script string, env []string) error { return nil }

type fakeCtx struct {
	tmpPath string
	ex      handler.Executor
}

func (c *fakeCtx) RootPath() string               { return "" }
func (c *fakeCtx) TmpPath() string                { return c.tmpPath }
func (c *fakeCtx) InputPath() string              { return "" }
func (c *fakeCtx) OutputPath() string             { return "" }
func (c *fakeCtx) Executor() handler.Executor     { return c.ex }
func (c *fakeCtx) Logf(string, ...interface{})    {}
func (c *fakeCtx) Image(string) (*model.Image, bool) { return nil, false }
func (c *fakeCtx) Tool(name string) string            { return name }

func TestGenerateWritesRootHashFlagAndReportsFinalSize(t *testing.T) {
	dir := t.TempDir()
	outfile := filepath.Join(dir, "verity.img")

	ex := &fakeExecutor{run: func(name string, args []string) error {
		require.Equal(t, "veritysetup", name)
		require.Equal(t, "format", args[0])
		require.NoError(t, os.WriteFile(outfile, make([]byte, 4096), 0o644))
		return nil
	}}
	ctx := &fakeCtx{tmpPath: dir, ex: ex}

	size, err := Generate(ctx, "verity.img", "/data.img", outfile, 0, "")
	require.NoError(t, err)
	require.Equal(t, uint64(4096), size)
	require.Contains(t, ex.calls[0], "--root-hash-file")
}

func TestGenerateRejectsImageSmallerThanGenerated(t *testing.T) {
	dir := t.TempDir()
	outfile := filepath.Join(dir, "verity.img")

	ex := &fakeExecutor{run: func(name string, args []string) error {
		return os.WriteFile(outfile, make([]byte, 8192), 0o644)
	}}
	ctx := &fakeCtx{tmpPath: dir, ex: ex}

	_, err := Generate(ctx, "verity.img", "/data.img", outfile, 4096, "")
	require.Error(t, err)
}

func TestRootHashPathIsSanitizedAndSuffixed(t *testing.T) {
	path := RootHashPath("/tmp/work", "images/rootfs.img")
	require.Equal(t, "/tmp/work/images-rootfs.img.root-hash", path)
}
