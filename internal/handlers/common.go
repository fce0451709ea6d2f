// Package handlers registers the closed set of image-type handlers
// (spec.md §4.C/§6) with internal/handler: the from-scratch engines built
// as their own packages (hdimage, flash, android-sparse, verity,
// verity-sig, mdraid) get a thin handler.Handler wrapper here, and every
// filesystem/archive/firmware type that genimage only ever drives through
// an external tool (ext2/3/4, squashfs, vfat, ubi, ubifs, jffs2, f2fs,
// btrfs, erofs, cramfs, cpio, tar, iso, fit, fip, rauc, qemu, custom, file)
// is implemented directly here as a thin command-template handler.
//
// Grounded file-for-file on _examples/original_source/image-*.c: each
// handler's Generate builds the same argv (or shell pipeline) the matching
// *_generate function does, via ctx.Executor().Run/RunShell instead of
// systemp.
package handlers

import (
	"fmt"
	"strconv"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
	"github.com/pengutronix/genimage/internal/option"
	"github.com/pengutronix/genimage/internal/shellexec"
)

// getString returns sec's value for key, or def if unset. Mirrors
// cfg_getstr's compiled-default behavior.
func getString(sec *cfgfile.Section, key, def string) string {
	if sec == nil {
		return def
	}
	if v, ok := sec.Get(key); ok {
		return v
	}
	return def
}

// getAll returns every entry's value for key in document order, the way
// CFG_STR_LIST-backed options (e.g. fip's "tos-fw", vfat's "files") repeat
// the same bare key once per list element instead of using a single
// comma-separated value. Confirmed against cfgfile's parser: each
// occurrence of "key value" or "key = value" appends its own Entry with no
// deduplication, so this is exactly multiple Entries sharing one Key.
func getAll(sec *cfgfile.Section, key string) []string {
	var out []string
	for _, e := range sec.Entries {
		if e.Key == key {
			out = append(out, e.Value)
		}
	}
	return out
}

// getBool parses sec's value for key as "true"/"false"/"1"/"0", or returns
// def if unset. Mirrors cfg_getbool.
func getBool(sec *cfgfile.Section, key string, def bool) (bool, error) {
	v, ok := sec.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("handlers: %s: invalid bool %q: %w", key, v, err)
	}
	return b, nil
}

// getInt parses sec's value for key as a plain integer, or returns def if
// unset. Mirrors cfg_getint.
func getInt(sec *cfgfile.Section, key string, def int) (int, error) {
	v, ok := sec.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("handlers: %s: invalid integer %q: %w", key, v, err)
	}
	return int(n), nil
}

// getSize parses sec's value for key as a size-suffixed integer (spec.md
// §6), or returns 0 if unset. Mirrors cfg_getint_suffix. A '%' suffix is
// rejected; every handler's partition sizes, hdimage's and flash's
// included, are read through this function, so none accepts a percentage.
func getSize(sec *cfgfile.Section, key string) (uint64, error) {
	v, ok := sec.Get(key)
	if !ok || v == "" {
		return 0, nil
	}
	return option.MustSize(v)
}

// parsePartitions reads every `partition <title> { ... }` child section
// into model.Partition records, the generic shape parse_partitions and
// image-hd.c's own per-partition reads both populate struct partition
// with (offset, size, align, partition-type(-uuid), partition-uuid,
// bootable, read-only, hidden, no-automount, fill, image, autoresize,
// in-partition-table).
func parsePartitions(sec *cfgfile.Section) ([]*model.Partition, error) {
	var out []*model.Partition
	for _, psec := range sec.All("partition") {
		part := &model.Partition{Name: psec.Title}

		size, err := getSize(psec, "size")
		if err != nil {
			return nil, fmt.Errorf("handlers: partition %s: %w", part.Name, err)
		}
		part.Size = size

		offset, err := getSize(psec, "offset")
		if err != nil {
			return nil, fmt.Errorf("handlers: partition %s: %w", part.Name, err)
		}
		part.Offset = offset

		align, err := getSize(psec, "align")
		if err != nil {
			return nil, fmt.Errorf("handlers: partition %s: %w", part.Name, err)
		}
		part.Align = align

		ptype, err := getInt(psec, "partition-type", 0)
		if err != nil {
			return nil, fmt.Errorf("handlers: partition %s: %w", part.Name, err)
		}
		part.PartitionType = uint8(ptype)

		part.PartitionTypeUUID = getString(psec, "partition-type-uuid", "")
		part.PartitionUUID = getString(psec, "partition-uuid", "")
		part.Image = getString(psec, "image", "")

		boolFields := []struct {
			key string
			dst *bool
		}{
			{"bootable", &part.Bootable},
			{"read-only", &part.ReadOnly},
			{"hidden", &part.Hidden},
			{"no-automount", &part.NoAutomount},
			{"fill", &part.Fill},
			{"autoresize", &part.Autoresize},
		}
		for _, f := range boolFields {
			v, err := getBool(psec, f.key, false)
			if err != nil {
				return nil, fmt.Errorf("handlers: partition %s: %w", part.Name, err)
			}
			*f.dst = v
		}

		inTable, err := getBool(psec, "in-partition-table", true)
		if err != nil {
			return nil, fmt.Errorf("handlers: partition %s: %w", part.Name, err)
		}
		part.InPartitionTable = inTable

		out = append(out, part)
	}
	return out, nil
}

// splitExtra tokenizes a configured "extraargs"-style option the way every
// handler's systemp(image, "%s ... %s", ..., extraargs) call relies on the
// shell to split it, rather than passing it through exec as one opaque arg.
func splitExtra(s string) ([]string, error) {
	args, err := shellexec.SplitArgs(s)
	if err != nil {
		return nil, fmt.Errorf("handlers: %w", err)
	}
	return args, nil
}

// resolveImage looks up a partition's "image" reference, failing the way
// image_get's NULL return does when the caller immediately dereferences it.
func resolveImage(ctx handler.Context, name string) (*model.Image, error) {
	img, ok := ctx.Image(name)
	if !ok {
		return nil, fmt.Errorf("handlers: could not find image %q", name)
	}
	return img, nil
}

// GetString, GetSize, GetBool, GetAll and ParsePartitions re-export this
// file's cfgfile-reading helpers for cmd/genimage, which needs the exact
// same image_common_opts-style reads (name, size, mountpoint, holes, ...)
// at the top-level image section that every handler here applies to its
// own subsection.
func GetString(sec *cfgfile.Section, key, def string) string { return getString(sec, key, def) }
func GetSize(sec *cfgfile.Section, key string) (uint64, error) { return getSize(sec, key) }
func GetBool(sec *cfgfile.Section, key string, def bool) (bool, error) { return getBool(sec, key, def) }
func GetAll(sec *cfgfile.Section, key string) []string { return getAll(sec, key) }
func ParsePartitions(sec *cfgfile.Section) ([]*model.Partition, error) { return parsePartitions(sec) }
