// Package graph builds and walks the image dependency graph spec.md §4.D
// describes: one node per configured image, edges from a partition's
// "image" reference to the child image it pulls content from, walked
// twice — once to Setup (depth-first, children before parents) and once to
// Generate (same order, plus exec-pre/exec-post around each node).
//
// Grounded on _examples/original_source/genimage.c's image_setup/
// image_generate (the seen/done sentinel walk this package's VisitState
// enum replaces) and set_flash_type (the flash-type propagation pass).
package graph

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

// Graph owns every parsed image and flash-type record for one run.
type Graph struct {
	images     []*model.Image
	byFile     map[string]*model.Image
	flashTypes map[string]*model.FlashType
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		byFile:     map[string]*model.Image{},
		flashTypes: map[string]*model.FlashType{},
	}
}

// AddImage registers img, keyed by its output file name. Returns an error
// if another image already claims that file name.
func (g *Graph) AddImage(img *model.Image) error {
	if _, exists := g.byFile[img.File]; exists {
		return fmt.Errorf("graph: duplicate image %q", img.File)
	}
	g.images = append(g.images, img)
	g.byFile[img.File] = img
	return nil
}

// AddFlashType registers a named flash geometry.
func (g *Graph) AddFlashType(ft *model.FlashType) error {
	if _, exists := g.flashTypes[ft.Name]; exists {
		return fmt.Errorf("graph: duplicate flash type %q", ft.Name)
	}
	g.flashTypes[ft.Name] = ft
	return nil
}

// FlashType looks up a registered flash type by name.
func (g *Graph) FlashType(name string) (*model.FlashType, bool) {
	ft, ok := g.flashTypes[name]
	return ft, ok
}

// Image looks up a registered image by its output file name, matching
// image_get.
func (g *Graph) Image(file string) (*model.Image, bool) {
	img, ok := g.byFile[file]
	return img, ok
}

// Images returns every registered image, in configuration order.
func (g *Graph) Images() []*model.Image {
	return g.images
}

// PropagateFlashTypes pushes each image's flash type down onto every child
// image referenced by its partitions, erroring on a conflicting assignment.
// Mirrors set_flash_type.
func (g *Graph) PropagateFlashTypes() error {
	for _, img := range g.images {
		if img.FlashType == nil {
			continue
		}
		for _, part := range img.Partitions {
			if part.Image == "" {
				continue
			}
			child, ok := g.Image(part.Image)
			if !ok {
				return fmt.Errorf("graph: image %q: partition %q references unknown image %q", img.File, part.Name, part.Image)
			}
			if child.FlashType != nil {
				if child.FlashType != img.FlashType {
					return fmt.Errorf("graph: conflicting flash types: %q has %q whereas %q has %q",
						child.File, child.FlashType.Name, img.File, img.FlashType.Name)
				}
				continue
			}
			child.FlashType = img.FlashType
		}
	}
	return nil
}

func (g *Graph) childImages(img *model.Image) ([]*model.Image, error) {
	var children []*model.Image
	for _, part := range img.Partitions {
		if part.Image == "" {
			continue
		}
		child, ok := g.Image(part.Image)
		if !ok {
			return nil, fmt.Errorf("graph: image %q: could not find %q", img.File, part.Image)
		}
		children = append(children, child)
	}
	return children, nil
}

// SetupAll runs Setup on every image, depth-first, children before parents,
// matching image_setup's traversal (called once per root the caller walks
// to; a full run setups every image in g.images so islands are covered
// too). ctx is threaded through to each handler's Setup.
func (g *Graph) SetupAll(ctx handler.Context) error {
	for _, img := range g.images {
		if err := g.setupOne(ctx, img); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) setupOne(ctx handler.Context, img *model.Image) error {
	if img.SetupState == model.Done {
		return nil
	}
	if img.SetupState == model.OnStack {
		return fmt.Errorf("graph: image %q: recursive dependency detected", img.File)
	}
	img.SetupState = model.OnStack

	children, err := g.childImages(img)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := g.setupOne(ctx, child); err != nil {
			return fmt.Errorf("graph: image %q: could not setup %q: %w", img.File, child.File, err)
		}
	}

	h, ok := handler.Lookup(img.Handler)
	if !ok {
		return fmt.Errorf("graph: image %q: unknown handler %q", img.File, img.Handler)
	}
	if err := h.Setup(ctx, img); err != nil {
		return fmt.Errorf("graph: image %q: setup: %w", img.File, err)
	}

	img.SetupState = model.Done
	return nil
}

// GenerateAll runs Generate on every image, depth-first, children before
// parents, matching image_generate's traversal, including exec-pre/
// exec-post invocation around the handler's own Generate call and
// best-effort removal of a partially written output file on failure.
func (g *Graph) GenerateAll(ctx handler.Context) error {
	for _, img := range g.images {
		if err := g.generateOne(ctx, img); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) generateOne(ctx handler.Context, img *model.Image) error {
	if img.GenerateState == model.Done {
		return nil
	}
	if img.GenerateState == model.OnStack {
		return fmt.Errorf("graph: image %q: recursive dependency detected", img.File)
	}
	img.GenerateState = model.OnStack

	children, err := g.childImages(img)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := g.generateOne(ctx, child); err != nil {
			return fmt.Errorf("graph: image %q: could not generate %q: %w", img.File, child.File, err)
		}
	}

	if img.ExecPre != "" {
		if err := ctx.Executor().RunShell("", img.ExecPre, ImageEnv(img)); err != nil {
			return fmt.Errorf("graph: image %q: exec-pre: %w", img.File, err)
		}
	}

	h, ok := handler.Lookup(img.Handler)
	if !ok {
		return fmt.Errorf("graph: image %q: unknown handler %q", img.File, img.Handler)
	}
	if err := h.Generate(ctx, img); err != nil {
		_ = ctx.Executor().Run("", "rm", "-f", img.Outfile)
		return fmt.Errorf("graph: image %q: generate: %w", img.File, err)
	}

	if img.ExecPost != "" {
		if err := ctx.Executor().RunShell("", img.ExecPost, ImageEnv(img)); err != nil {
			return fmt.Errorf("graph: image %q: exec-post: %w", img.File, err)
		}
	}

	img.GenerateState = model.Done
	return nil
}

// ImageEnv builds the per-image environment variables exec-pre/exec-post
// scripts (and the "custom" handler's own "exec" script) run with, matching
// setenv_image.
func ImageEnv(img *model.Image) []string {
	env := []string{
		"IMAGE=" + img.File,
		"IMAGEOUTFILE=" + img.Outfile,
	}
	if img.Name != "" {
		env = append(env, "IMAGENAME="+img.Name)
	}
	env = append(env, fmt.Sprintf("IMAGESIZE=%d", img.Size))
	if img.MP != nil {
		env = append(env, "IMAGEMOUNTPOINT="+img.MP.Path, "IMAGEMOUNTPATH="+img.MP.MountPath)
	}
	return env
}
