package graph

import (
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
	"github.com/pengutronix/genimage/internal/option"
)

// Context is the concrete handler.Context every handler runs against. It
// lives here, rather than in internal/handler, so that Image can resolve
// against the very Graph that is walking the handlers, without handler
// importing graph (which would cycle back through handler.Register calls
// the graph's callers make).
type Context struct {
	Graph  *Graph
	Root   string
	Tmp    string
	Input  string
	Output string
	Exec   handler.Executor
	Log    func(format string, args ...interface{})
	Opts   *option.Store
}

func (c *Context) RootPath() string   { return c.Root }
func (c *Context) TmpPath() string    { return c.Tmp }
func (c *Context) InputPath() string  { return c.Input }
func (c *Context) OutputPath() string { return c.Output }
func (c *Context) Executor() handler.Executor {
	return c.Exec
}

func (c *Context) Logf(format string, args ...interface{}) {
	if c.Log != nil {
		c.Log(format, args...)
	}
}

// Image resolves name through the graph, matching image_get.
func (c *Context) Image(name string) (*model.Image, bool) {
	return c.Graph.Image(name)
}

// Tool resolves name through the option store, matching get_opt. If no
// store is set (e.g. a test wiring its own fakeCtx instead), name is
// returned unchanged so unit tests can still assert on it directly.
func (c *Context) Tool(name string) string {
	if c.Opts == nil {
		return name
	}
	return c.Opts.Get(name)
}
