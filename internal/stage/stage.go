// Package stage builds the per-run mountpoint staging tree spec.md §4.H
// describes: a copy of rootpath under "<tmppath>/root", with every distinct
// image mountpoint sliced out into its own "<tmppath>/mp-<sanitized-path>"
// directory so a handler can point an external tool at exactly the subtree
// it owns.
//
// Grounded on _examples/original_source/genimage.c's collect_mountpoints/
// add_mountpoint/add_root_mountpoint/mountpath/check_tmp_path, which do the
// same thing by shelling out to cp -a/mv/mkdir/chmod --reference/chown
// --reference; this package keeps that external-tool idiom (permission and
// ownership bits are easiest to preserve exactly by asking coreutils to do
// it, the same reasoning _examples/direktiv-vorteil/pkg/vio/file.go applies
// by preserving fi.Mode()/fi.ModTime() verbatim when it copies files).
package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
)

// Set holds every mountpoint staging directory collected for a run, keyed
// by virtual path ("" is the root).
type Set struct {
	tmpPath string
	byPath  map[string]*model.Mountpoint
}

// New creates an empty Set rooted at tmpPath.
func New(tmpPath string) *Set {
	return &Set{
		tmpPath: tmpPath,
		byPath:  map[string]*model.Mountpoint{},
	}
}

// Sanitize flattens an arbitrary path into a slug safe to use as a single
// path component, the way genimage.c's sanitize_path turns a "/"-separated
// path (a mountpoint, or an image filename for a handler's private tmppath
// subdirectory) into one. Exported for reuse by handlers that, like
// verity_tmp_path, build their own "<tmppath>/<slug>.<suffix>" name.
func Sanitize(path string) string {
	if path == "" {
		return "root"
	}
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", "-")
}

// sanitize turns a virtual mountpoint path into a safe staging directory
// name. The original reuses tmppath/<path> directly since its shell copy
// operates on real nested directories; this package instead gives every
// mountpoint its own top-level staging directory, so embedded separators
// are flattened to avoid colliding with tmppath's own layout.
func sanitize(path string) string {
	if path == "" {
		return "root"
	}
	return "mp-" + Sanitize(path)
}

// Add registers path (already normalized, "" meaning the image root) and
// returns its Mountpoint, creating one on first use.
func (s *Set) Add(path string) *model.Mountpoint {
	if mp, ok := s.byPath[path]; ok {
		return mp
	}
	mp := &model.Mountpoint{
		Path:      path,
		MountPath: filepath.Join(s.tmpPath, sanitize(path)),
	}
	s.byPath[path] = mp
	return mp
}

// Get returns the Mountpoint for path if one was registered.
func (s *Set) Get(path string) (*model.Mountpoint, bool) {
	mp, ok := s.byPath[path]
	return mp, ok
}

// Root returns the staging directory every image falls back to when it has
// no explicit mountpoint or srcpath.
func (s *Set) Root() *model.Mountpoint {
	return s.Add("")
}

// CollectFromImages registers every image's mountpoint (spec.md §4.H step
// 1), matching genimage.c's pass over the image list that calls
// add_mountpoint for each image->mountpoint.
func (s *Set) CollectFromImages(images []*model.Image) {
	for _, img := range images {
		if img.Mountpoint != "" {
			img.MP = s.Add(img.Mountpoint)
		}
	}
}

// Build materializes the staging tree on disk: copies rootPath into the
// root mountpoint's directory, then for every other registered mountpoint
// moves the matching subtree out of root into its own directory and leaves
// an empty, permission-and-ownership-matched placeholder behind so handlers
// that read the root tree still see the original directory entry.
//
// Mirrors collect_mountpoints's cp -a / mv / mkdir / chmod --reference /
// chown --reference sequence.
func (s *Set) Build(ex handler.Executor, rootPath string) error {
	root := s.Root()

	if err := ex.Run("", "mkdir", "-p", s.tmpPath); err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	if err := ex.Run("", "cp", "-a", rootPath, root.MountPath); err != nil {
		return fmt.Errorf("stage: copy rootpath: %w", err)
	}

	for _, path := range s.sortedNonRootPaths() {
		mp := s.byPath[path]
		src := filepath.Join(root.MountPath, path)

		if _, err := os.Stat(src); os.IsNotExist(err) {
			// Nothing under rootpath at this mountpoint; still give the
			// handler an (empty) staging directory to work with.
			if err := ex.Run("", "mkdir", "-p", mp.MountPath); err != nil {
				return fmt.Errorf("stage: mountpoint %q: %w", path, err)
			}
			continue
		}

		if err := ex.Run("", "mv", src, mp.MountPath); err != nil {
			return fmt.Errorf("stage: mountpoint %q: %w", path, err)
		}
		if err := ex.Run("", "mkdir", src); err != nil {
			return fmt.Errorf("stage: mountpoint %q: %w", path, err)
		}
		if err := ex.Run("", "chmod", "--reference="+mp.MountPath, src); err != nil {
			return fmt.Errorf("stage: mountpoint %q: %w", path, err)
		}
		if err := ex.Run("", "chown", "--reference="+mp.MountPath, src); err != nil {
			return fmt.Errorf("stage: mountpoint %q: %w", path, err)
		}
	}

	return nil
}

func (s *Set) sortedNonRootPaths() []string {
	var paths []string
	for path := range s.byPath {
		if path != "" {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// CheckTmpPath validates the configured tmppath per check_tmp_path: it may
// not exist yet (created on demand), or it must be empty (tolerating the
// "." and ".." entries a real directory always has). generated reports
// whether this call created the directory, which the caller should use to
// decide whether a later cleanup pass may remove it.
func CheckTmpPath(tmpPath string) (generated bool, err error) {
	entries, err := os.ReadDir(tmpPath)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(tmpPath, 0755); err != nil {
			return false, fmt.Errorf("stage: create tmppath %s: %w", tmpPath, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stage: stat tmppath %s: %w", tmpPath, err)
	}
	if len(entries) > 0 {
		return false, fmt.Errorf("stage: tmppath %q exists and is not empty", tmpPath)
	}
	return false, nil
}

// Cleanup removes everything under tmpPath, mirroring cleanup()'s
// `rm -rf tmppath/*`, but only when generated is true (the caller created
// tmppath itself rather than reusing a pre-existing one).
func Cleanup(tmpPath string, generated bool) error {
	if !generated {
		return nil
	}
	entries, err := os.ReadDir(tmpPath)
	if err != nil {
		return fmt.Errorf("stage: cleanup %s: %w", tmpPath, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(tmpPath, e.Name())); err != nil {
			return fmt.Errorf("stage: cleanup %s: %w", tmpPath, err)
		}
	}
	return nil
}
