package gpt

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/pengutronix/genimage/internal/model"
)

// Options holds the hdimage subsection's configured fields (spec.md
// §6's hdimage options), ported from struct hdimage.
type Options struct {
	Align             uint64
	PartitionTable    bool
	ExtendedPartition int // 0 means pick automatically once needed
	DiskSignature     string // raw config string: "", "random", or a numeric literal
	DiskUUID          string // "" means generate one
	GPT               bool
	GPTLocation       uint64
	GPTNoBackup       bool
	Fill              bool
}

// Resolved carries the values hdimage_setup computes once and
// hdimage_generate later needs verbatim.
type Resolved struct {
	DiskSignature uint32
	DiskUUID      string
	GPTLocation   uint64
	ExtendedLBA   uint64
}

// ImageLookup resolves a partition's "image" reference to the child Image
// record, the same way image_get does.
type ImageLookup func(file string) (*model.Image, bool)

func partitionEnd(p *model.Partition) uint64 { return p.Offset + p.Size }

func roundup(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	return ((value - 1) / align + 1) * align
}

func rounddown(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	return value - value%align
}

// validateAutoresize rejects combinations the original left silently
// ambiguous: an autoresize partition (which already claims "everything left
// on the device") on an image that also pads itself to size with
// image-level "fill", or that also pins itself to an explicit offset — all
// three mechanisms try to own or fix the same trailing space.
func validateAutoresize(part *model.Partition, opts Options, explicitOffset bool) error {
	if opts.Fill {
		return fmt.Errorf("gpt: autoresize partition %s cannot be combined with image-level fill", part.Name)
	}
	if explicitOffset {
		return fmt.Errorf("gpt: autoresize partition %s cannot be combined with an explicit offset", part.Name)
	}
	return nil
}

func fakePartition(name string, offset, size uint64) *model.Partition {
	return &model.Partition{Name: name, Offset: offset, Size: size, Align: 1, Pseudo: true}
}

func randomUUID() string {
	return uuid.New().String()
}

// Layout plans the on-disk position of every partition of img, inserting
// the synthetic [MBR]/[GPT header]/[GPT array]/[GPT backup] pseudo
// partitions, resolving each partition's offset/size (including the single
// "autoresize" partition and GPT type/partition UUIDs), deciding which
// partition (if any) carries the Extended Boot Record chain, and, if
// img.Size was left at zero, computing the final image size. Ported from
// hdimage_setup.
func Layout(img *model.Image, opts Options, lookup ImageLookup) (*Resolved, error) {
	if opts.Align == 0 || opts.Align%SectorSize != 0 {
		return nil, fmt.Errorf("gpt: partition alignment (%d) must be a multiple of %d bytes", opts.Align, SectorSize)
	}
	if opts.ExtendedPartition > 4 {
		return nil, fmt.Errorf("gpt: invalid extended partition index (%d); must be <= 4 (0 for automatic)", opts.ExtendedPartition)
	}

	var partitionTableEntries int
	for _, part := range img.Partitions {
		if !opts.PartitionTable {
			part.InPartitionTable = false
		}
		if part.InPartitionTable {
			partitionTableEntries++
		}
		if part.Align == 0 {
			if part.InPartitionTable {
				part.Align = opts.Align
			} else {
				part.Align = 1
			}
		}
		if part.InPartitionTable && part.Align%opts.Align != 0 {
			return nil, fmt.Errorf("gpt: partition alignment (%d) of partition %s must be a multiple of image alignment (%d)",
				part.Align, part.Name, opts.Align)
		}
	}

	extendedPartition := opts.ExtendedPartition
	if !opts.GPT && extendedPartition == 0 && partitionTableEntries > 4 {
		extendedPartition = 4
	}
	hasExtended := extendedPartition > 0

	resolved := &Resolved{GPTLocation: opts.GPTLocation}

	diskUUID := opts.DiskUUID
	if diskUUID != "" {
		if _, err := uuid.Parse(diskUUID); err != nil {
			return nil, fmt.Errorf("gpt: invalid disk UUID: %s", diskUUID)
		}
	} else {
		diskUUID = randomUUID()
	}
	resolved.DiskUUID = diskUUID

	switch opts.DiskSignature {
	case "random", "":
		resolved.DiskSignature = rand.Uint32()
	default:
		var v uint32
		if _, err := fmt.Sscanf(opts.DiskSignature, "0x%x", &v); err != nil {
			if _, err := fmt.Sscanf(opts.DiskSignature, "%d", &v); err != nil {
				return nil, fmt.Errorf("gpt: invalid disk-signature %q", opts.DiskSignature)
			}
		}
		resolved.DiskSignature = v
	}

	if opts.GPTLocation == 0 {
		resolved.GPTLocation = 2 * SectorSize
	} else if opts.GPTLocation%SectorSize != 0 {
		return nil, fmt.Errorf("gpt: GPT table location (%d) must be a multiple of %d bytes", opts.GPTLocation, SectorSize)
	}

	var now uint64
	if opts.PartitionTable {
		mbr := fakePartition("[MBR]", SectorSize-72, 72)
		img.Partitions = append(img.Partitions, mbr)
		now = partitionEnd(mbr)

		if opts.GPT {
			gptHeader := fakePartition("[GPT header]", SectorSize, SectorSize)
			gptArray := fakePartition("[GPT array]", resolved.GPTLocation, (GPTSectors-1)*SectorSize)
			img.Partitions = append(img.Partitions, gptHeader, gptArray)
			now = partitionEnd(gptArray)

			if img.Size != 0 {
				size := uint64(GPTSectors) * SectorSize
				gptBackup := fakePartition("[GPT backup]", img.Size-size, size)
				img.Partitions = append(img.Partitions, gptBackup)
			}
		}
	}

	var autoresizePart *model.Partition
	partitionTableEntries = 0
	for _, part := range img.Partitions {
		explicitOffset := part.Offset != 0

		if part.Autoresize {
			if autoresizePart != nil {
				return nil, fmt.Errorf("gpt: autoresize is only supported for one partition")
			}
			autoresizePart = part
			if img.Size == 0 {
				return nil, fmt.Errorf("gpt: the image size must be specified when using an autoresize partition")
			}
		}

		if opts.GPT && part.InPartitionTable {
			if part.PartitionTypeUUID == "" {
				return nil, fmt.Errorf("gpt: part %s has no partition-type-uuid", part.Name)
			}
			full, err := ResolveTypeUUID(part.PartitionTypeUUID)
			if err != nil {
				return nil, fmt.Errorf("gpt: part %s: %w", part.Name, err)
			}
			part.PartitionTypeUUID = full
			if _, err := uuid.Parse(part.PartitionTypeUUID); err != nil {
				return nil, fmt.Errorf("gpt: part %s has invalid partition type UUID: %s", part.Name, part.PartitionTypeUUID)
			}
			if part.PartitionUUID != "" {
				if _, err := uuid.Parse(part.PartitionUUID); err != nil {
					return nil, fmt.Errorf("gpt: part %s has invalid partition UUID: %s", part.Name, part.PartitionUUID)
				}
			} else {
				part.PartitionUUID = randomUUID()
			}
		}

		if part.InPartitionTable {
			partitionTableEntries++
		}
		part.Extended = hasExtended && part.InPartitionTable && partitionTableEntries >= extendedPartition
		if part.Extended && opts.GPT && part.PartitionType != 0 {
			return nil, fmt.Errorf("gpt: part %s is a logical partition and cannot carry a hybrid MBR partition-type", part.Name)
		}
		if part.Extended {
			now += opts.Align
			now = roundup(now, part.Align)
		}
		if part.Offset == 0 && part.InPartitionTable {
			part.Offset = roundup(now, part.Align)
		}
		if part.Extended && resolved.ExtendedLBA == 0 {
			resolved.ExtendedLBA = part.Offset - opts.Align
		}

		if part.Align != 0 && part.Offset%part.Align != 0 {
			return nil, fmt.Errorf("gpt: part %s offset (%d) must be a multiple of %d bytes", part.Name, part.Offset, part.Align)
		}

		if part.Autoresize {
			if err := validateAutoresize(part, opts, explicitOffset); err != nil {
				return nil, err
			}
			partsize := int64(img.Size) - int64(part.Offset)
			if opts.GPT {
				partsize -= int64(GPTSectors) * SectorSize
			}
			partsize = int64(rounddown(uint64(partsize), part.Align))
			if partsize <= 0 {
				return nil, fmt.Errorf("gpt: partitions exceed device size")
			}
			if uint64(partsize) < part.Size {
				return nil, fmt.Errorf("gpt: auto-resize partition %s ends up with a size %d smaller than minimum %d",
					part.Name, partsize, part.Size)
			}
			part.Size = uint64(partsize)
		}

		if part.Image != "" {
			child, ok := lookup(part.Image)
			if !ok {
				return nil, fmt.Errorf("gpt: could not find %s", part.Image)
			}
			if part.Size == 0 {
				if part.InPartitionTable {
					part.Size = roundup(child.Size, part.Align)
				} else {
					part.Size = child.Size
				}
			}
			if child.Size > part.Size {
				return nil, fmt.Errorf("gpt: part %s size (%d) too small for %s (%d)", part.Name, part.Size, child.File, child.Size)
			}
		}

		if part.Size == 0 {
			return nil, fmt.Errorf("gpt: part %s size must not be zero", part.Name)
		}

		if !part.Extended {
			if err := checkOverlap(img, part, lookup); err != nil {
				return nil, err
			}
		} else if now > part.Offset {
			return nil, fmt.Errorf("gpt: part %s overlaps with previous partition", part.Name)
		}

		if part.InPartitionTable && part.Size%SectorSize != 0 {
			return nil, fmt.Errorf("gpt: part %s size (%d) must be a multiple of %d bytes", part.Name, part.Size, SectorSize)
		}

		if part.Offset+part.Size > now {
			now = part.Offset + part.Size
		}
	}

	if img.Size > 0 && now > img.Size {
		return nil, fmt.Errorf("gpt: partitions exceed device size")
	}

	if img.Size == 0 {
		if opts.GPT {
			now += uint64(GPTSectors) * SectorSize
			img.Size = (now + 4095) / 4096 * 4096
		} else {
			img.Size = now
		}
	}

	return resolved, nil
}

// checkOverlap verifies p does not overlap any partition already laid out
// before it in img.Partitions, unless the child image occupying the
// earlier partition reports a hole that fully covers the overlapping
// range. Ported from check_overlap/image_has_hole_covering.
func checkOverlap(img *model.Image, p *model.Partition, lookup ImageLookup) error {
	for _, q := range img.Partitions {
		if p == q {
			return nil
		}
		if p.Offset >= q.Offset+q.Size {
			continue
		}
		if q.Offset >= p.Offset+p.Size {
			continue
		}

		start := max64(p.Offset, q.Offset)
		end := min64(p.Offset+p.Size, q.Offset+q.Size)

		if holeCovers(q, lookup, start-q.Offset, end-q.Offset) {
			continue
		}

		return fmt.Errorf("gpt: partition %s (offset 0x%x, size 0x%x) overlaps previous partition %s (offset 0x%x, size 0x%x)",
			p.Name, p.Offset, p.Size, q.Name, q.Offset, q.Size)
	}
	return fmt.Errorf("gpt: internal error: partition %s not found in its own image", p.Name)
}

func holeCovers(q *model.Partition, lookup ImageLookup, start, end uint64) bool {
	if q.Image == "" {
		return false
	}
	child, ok := lookup(q.Image)
	if !ok {
		return false
	}
	for _, hole := range child.Holes {
		if hole.Covers(start, end) {
			return true
		}
	}
	return false
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
