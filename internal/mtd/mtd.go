// Package mtd implements the "flash" image type: a purely logical
// partitioning of a raw NAND/NOR flash device into PEB-aligned regions, one
// per UBI volume or raw MTD partition. Unlike internal/gpt, nothing here
// ever assembles a combined output file — each partition's child image is
// written to its own file by its own handler (ubi, ubifs, ...), and the
// flash device itself is only ever addressed through an MTD partition
// table supplied out of band (kernel command line, device tree, U-Boot
// environment). Layout/Generate therefore only validate that partitions
// fit the flash geometry.
//
// Grounded on _examples/original_source/image-flash.c (flash_setup,
// flash_generate).
package mtd

import (
	"fmt"

	"github.com/pengutronix/genimage/internal/fileio"
	"github.com/pengutronix/genimage/internal/model"
)

// Layout resolves partition sizes against img.FlashType, mirroring
// flash_setup: at most one partition (necessarily the last one) may be
// given size 0, meaning "whatever space is left on the device".
func Layout(img *model.Image) error {
	if img.FlashType == nil {
		return fmt.Errorf("mtd: image %s has no flash type", img.Name)
	}

	flashSize := img.FlashType.PEBSize * img.FlashType.NumPEBs

	var partsize uint64
	last := false
	for _, part := range img.Partitions {
		if last {
			return fmt.Errorf("mtd: only the last partition of %s may have size 0", img.Name)
		}

		if part.Size == 0 {
			last = true
			if partsize > flashSize {
				return fmt.Errorf("mtd: size of partitions (%d) exceeds flash size (%d)", partsize, flashSize)
			}
			part.Size = flashSize - partsize
		}

		partsize += part.Size
	}

	if partsize > flashSize {
		return fmt.Errorf("mtd: size of partitions (%d) exceeds flash size (%d)", partsize, flashSize)
	}

	return nil
}

// ImageLookup resolves a partition's "image" reference to the child Image
// record it names.
type ImageLookup func(file string) (*model.Image, bool)

// Generate verifies every partition's already-generated child image still
// fits within its partition's allotted size. Ported from flash_generate,
// which performs the same check via stat(2) on the child's output file.
func Generate(img *model.Image, lookup ImageLookup) error {
	for _, part := range img.Partitions {
		if part.Image == "" {
			continue
		}

		child, ok := lookup(part.Image)
		if !ok {
			return fmt.Errorf("mtd: could not find %s for partition %s", part.Image, part.Name)
		}

		size, err := fileio.FileSize(child.Outfile)
		if err != nil {
			return fmt.Errorf("mtd: %w", err)
		}

		if size > part.Size {
			return fmt.Errorf("mtd: image file %s for partition %s is bigger than partition (%d > %d)",
				child.File, part.Name, size, part.Size)
		}
	}

	return nil
}
