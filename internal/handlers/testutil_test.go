package handlers

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

// fakeExec records every invocation instead of running it, the seam every
// handler test in this package drives instead of shelling out for real.
type fakeExec struct {
	runs      [][]string
	shells    []string
	failNames map[string]bool
}

func (f *fakeExec) Run(dir, name string, args ...string) error {
	f.runs = append(f.runs, append([]string{name}, args...))
	if f.failNames[name] {
		return fmt.Errorf("fakeExec: %s failed", name)
	}
	return nil
}

func (f *fakeExec) RunShell(dir, script string, env []string) error {
	f.shells = append(f.shells, script)
	return nil
}

// fakeCtx is a minimal handler.Context backed by an in-memory image set and
// a fakeExec, letting Generate implementations be exercised without any
// real filesystem or subprocess interaction.
type fakeCtx struct {
	root, tmp, input, output string
	ex                       *fakeExec
	images                   map[string]*model.Image
}

func newFakeCtx() *fakeCtx {
	return &fakeCtx{
		root: "/root", tmp: "/tmp", input: "/input", output: "/images",
		ex:     &fakeExec{failNames: map[string]bool{}},
		images: map[string]*model.Image{},
	}
}

func (c *fakeCtx) RootPath() string   { return c.root }
func (c *fakeCtx) TmpPath() string    { return c.tmp }
func (c *fakeCtx) InputPath() string  { return c.input }
func (c *fakeCtx) OutputPath() string { return c.output }
func (c *fakeCtx) Executor() handler.Executor { return c.ex }
func (c *fakeCtx) Logf(format string, args ...interface{}) {}
func (c *fakeCtx) Tool(name string) string { return name }
func (c *fakeCtx) Image(name string) (*model.Image, bool) {
	img, ok := c.images[name]
	return img, ok
}

func (c *fakeCtx) addImage(img *model.Image) {
	c.images[img.File] = img
}

// sec builds a *cfgfile.Section from flat key/value pairs, the way a
// handler's own Parse sees its config subsection.
func sec(entries ...string) *cfgfile.Section {
	s := &cfgfile.Section{}
	for i := 0; i+1 < len(entries); i += 2 {
		s.Entries = append(s.Entries, cfgfile.Entry{Key: entries[i], Value: entries[i+1]})
	}
	return s
}

// secWith attaches child sections (e.g. "partition", "file") to a flat
// key/value section.
func secWith(children []*cfgfile.Section, entries ...string) *cfgfile.Section {
	s := sec(entries...)
	s.Sections = children
	return s
}

func childSection(typ, title string, entries ...string) *cfgfile.Section {
	s := sec(entries...)
	s.Type = typ
	s.Title = title
	return s
}
