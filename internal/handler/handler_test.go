package handler

import (
	"testing"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/model"
	"github.com/stretchr/testify/require"
)

type stubHandler struct{ typ string }

func (s *stubHandler) Type() string                                 { return s.typ }
func (s *stubHandler) NoRootpath() bool                              { return false }
func (s *stubHandler) Parse(*model.Image, *cfgfile.Section) error    { return nil }
func (s *stubHandler) Setup(Context, *model.Image) error             { return nil }
func (s *stubHandler) Generate(Context, *model.Image) error          { return nil }

func TestRegisterAndLookup(t *testing.T) {
	Register(&stubHandler{typ: "test-stub-handler"})

	h, ok := Lookup("test-stub-handler")
	require.True(t, ok)
	require.Equal(t, "test-stub-handler", h.Type())

	_, ok = Lookup("does-not-exist")
	require.False(t, ok)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register(&stubHandler{typ: "test-stub-dup"})
	require.Panics(t, func() {
		Register(&stubHandler{typ: "test-stub-dup"})
	})
}
