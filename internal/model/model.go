// Package model holds the data types shared by the image graph, the
// partition-table engine, and the handler registry: Image, Partition,
// FlashType, and Mountpoint records (spec.md §3).
//
// Grounded on _examples/original_source/genimage.h's struct image/partition/
// flash_type/mountpoint, reworked per spec.md §9's Design Notes from
// intrusive lists and a void* handler_priv into owning slices/maps and a
// typed HandlerState interface.
package model

import (
	"time"
)

// VisitState is one of the two-phase (setup, generate) traversal markers
// spec.md §4.D calls seen/done, made an explicit three-state enum per
// spec.md §9 instead of the original's sentinel integers.
type VisitState int

const (
	Unvisited VisitState = iota
	OnStack
	Done
)

// Extent is a byte range [Start, End).
type Extent struct {
	Start, End uint64
}

// Covers reports whether e fully covers [start, end).
func (e Extent) Covers(start, end uint64) bool {
	return e.Start <= start && end <= e.End
}

// HandlerState is private, handler-specific state attached to an Image
// during Setup and consumed during Generate. Each handler defines its own
// concrete type implementing this marker interface.
type HandlerState interface {
	isHandlerState()
}

// HandlerStateBase is embedded by a handler's private per-image state type
// to satisfy HandlerState without exporting the marker method itself.
type HandlerStateBase struct{}

func (HandlerStateBase) isHandlerState() {}

// Partition is a child slot of an Image (spec.md §3 "Partition record").
type Partition struct {
	Name string

	// Image is the name of another Image record this partition's content
	// comes from, or "" if the partition carries no content of its own
	// (only legal when InPartitionTable is true).
	Image string

	Offset uint64
	Size   uint64
	Align  uint64

	PartitionType     uint8 // MBR 1-byte type code
	PartitionTypeUUID string // GPT type UUID, or a one-letter alias
	PartitionUUID     string

	Bootable       bool
	ReadOnly       bool
	Hidden         bool
	NoAutomount    bool
	Fill           bool
	InPartitionTable bool
	Autoresize     bool

	// Logical and ForcedPrimary are not set anywhere in this module: the
	// layout engine marks logical partitions through Extended below, and no
	// handler reads a forced-primary option.
	Logical       bool
	ForcedPrimary bool

	// Extended is true for every in-table partition from the extended
	// partition index onwards, once an image has an extended partition
	// (configured, or chosen automatically for more than four MBR table
	// entries): each such partition is logical and is preceded by its own
	// Extended Boot Record (spec.md §4.F.1.3). Computed during Setup.
	Extended bool

	// Pseudo is true for the synthetic [MBR]/[GPT header]/[GPT array]/
	// [GPT backup] partitions the layout engine inserts (spec.md §4.F.1.2).
	Pseudo bool
}

// FlashType is a named MTD geometry (spec.md §3 "Flash-type record").
type FlashType struct {
	Name               string
	PEBSize            uint64
	LEBSize            uint64
	NumPEBs            uint64
	MinimumIOUnitSize  uint64
	VIDHeaderOffset    uint64
	SubPageSize        uint64
}

// Mountpoint is a staging directory for one virtual mountpoint path
// (spec.md §3 "Mountpoint record").
type Mountpoint struct {
	Path      string // virtual path rooted at rootfs, "" for the root itself
	MountPath string // absolute staging directory
}

// Image is a single buildable output (spec.md §3 "Image record").
type Image struct {
	File string // output file name; the image section's title
	Name string

	Size           uint64
	SizeIsPercent  bool
	SizePercent    uint64 // numerator out of 100, valid iff SizeIsPercent

	Holes []Extent

	Mountpoint string
	Srcpath    string
	Empty      bool
	Temporary  bool

	ExecPre  string
	ExecPost string

	FlashTypeName string
	FlashType     *FlashType

	Partitions []*Partition

	Handler      string // tag into the closed handler set
	HandlerState HandlerState

	Outfile string

	SetupState    VisitState
	GenerateState VisitState

	MP *Mountpoint

	ModTime time.Time
}

// EffectiveSrcDir resolves an image's source directory per spec.md §4.E
// step 5: Srcpath if set, else the matching mountpoint's staging directory,
// else the root staging directory, else "" if Empty or the handler declares
// NoRootpath.
func (img *Image) EffectiveSrcDir(rootStage string, noRootpath bool) string {
	if img.Srcpath != "" {
		return img.Srcpath
	}
	if img.MP != nil {
		return img.MP.MountPath
	}
	if img.Empty || noRootpath {
		return ""
	}
	return rootStage
}
