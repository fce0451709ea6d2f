package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/pengutronix/genimage/internal/fileio"
	"github.com/pengutronix/genimage/internal/model"
)

// Writer emits the MBR/GPT structures and partition contents for a laid-out
// hdimage onto outfile. Ported from hdimage_generate/hdimage_insert_mbr/
// hdimage_insert_ebr/hdimage_insert_protective_mbr/hdimage_insert_gpt.
type Writer struct {
	Outfile  string
	Opts     Options
	Resolved *Resolved
	Lookup   ImageLookup
}

// Generate writes every partition's content (padding gaps with zero bytes,
// writing the EBR ahead of each logical partition), then the partition
// table itself (plain MBR or GPT + hybrid/protective MBR), then fills the
// remainder of the image if requested.
func (w *Writer) Generate(img *model.Image) error {
	mode := fileio.ModeOverwrite

	for _, part := range img.Partitions {
		if part.Image != "" || part.Extended {
			if err := fileio.ExtendFile(w.Outfile, part.Offset, 0, mode); err != nil {
				return fmt.Errorf("gpt: pad to partition %s: %w", part.Name, err)
			}
			mode = fileio.ModeAppend
		}

		if part.Extended {
			if err := w.insertEBR(img, part); err != nil {
				return err
			}
		}

		if part.Image == "" {
			continue
		}
		child, ok := w.Lookup(part.Image)
		if !ok {
			return fmt.Errorf("gpt: could not find %s", part.Image)
		}
		if child.Size == 0 {
			continue
		}
		if err := fileio.InsertImage(w.Outfile, child.Outfile, child.Size, int64(part.Offset)); err != nil {
			return fmt.Errorf("gpt: write partition %s: %w", part.Name, err)
		}
	}

	if w.Opts.PartitionTable {
		if w.Opts.GPT {
			if err := w.insertGPT(img); err != nil {
				return err
			}
		} else {
			if err := w.insertMBR(img, img.Partitions, false); err != nil {
				return err
			}
		}
	}

	if w.Opts.Fill {
		if err := fileio.ExtendFile(w.Outfile, img.Size, 0, fileio.ModeAppend); err != nil {
			return fmt.Errorf("gpt: fill image: %w", err)
		}
	}

	return nil
}

// insertMBR writes the 72-byte MBR tail (4 partition entries + boot
// signature) at offset 440. When hybrid is set, the entries written are
// limited to in-table partitions that also carry an MBR partition type,
// reserving one slot for the protective 0xEE entry, matching
// hdimage_insert_mbr's hybrid branch.
func (w *Writer) insertMBR(img *model.Image, partitions []*model.Partition, hybrid bool) error {
	var tail mbrTail
	tail.DiskSignature = w.Resolved.DiskSignature

	i := 0
	for _, part := range partitions {
		if !part.InPartitionTable {
			continue
		}
		if hybrid && part.PartitionType == 0 {
			continue
		}
		if hybrid && part.Extended {
			continue
		}

		entry := &tail.Entries[i]
		if part.Bootable {
			entry.Boot = 0x80
		}

		if !part.Extended {
			entry.PartitionType = part.PartitionType
			entry.RelativeSectors = uint32(part.Offset / SectorSize)
			entry.TotalSectors = uint32(part.Size / SectorSize)
		} else {
			entry.PartitionType = 0x0F
			entry.RelativeSectors = uint32(w.Resolved.ExtendedLBA / SectorSize)
			entry.TotalSectors = uint32((img.Size - w.Resolved.ExtendedLBA) / SectorSize)
		}
		setCHS(entry)

		if part.Extended {
			break
		}
		i++
	}

	if hybrid {
		entry := &tail.Entries[i]
		entry.PartitionType = 0xee
		entry.RelativeSectors = 1
		entry.TotalSectors = uint32(w.Resolved.GPTLocation/SectorSize) + GPTSectors - 2
		setCHS(entry)
	}

	tail.BootSignature = 0xaa55

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &tail); err != nil {
		return fmt.Errorf("gpt: encode mbr: %w", err)
	}
	if err := fileio.InsertData(w.Outfile, buf.Bytes(), 440); err != nil {
		return fmt.Errorf("gpt: write mbr: %w", err)
	}
	return nil
}

// insertProtectiveMBR writes a single-entry MBR covering the whole device
// with type 0xEE, the non-hybrid GPT case. Mirrors
// hdimage_insert_protective_mbr.
func (w *Writer) insertProtectiveMBR(img *model.Image) error {
	mbr := &model.Partition{
		Offset:           SectorSize,
		Size:             img.Size - SectorSize,
		InPartitionTable: true,
		PartitionType:    0xee,
	}
	return w.insertMBR(img, []*model.Partition{mbr}, false)
}

// insertEBR writes one Extended Boot Record ahead of a logical partition:
// its own MBR-style entry, plus (if there is a next logical partition
// chained after it) a second entry pointing at the next EBR. Mirrors
// hdimage_insert_ebr.
func (w *Writer) insertEBR(img *model.Image, part *model.Partition) error {
	var entries [4]mbrPartitionEntry

	entries[0].PartitionType = part.PartitionType
	entries[0].RelativeSectors = uint32(w.Opts.Align / SectorSize)
	entries[0].TotalSectors = uint32(part.Size / SectorSize)
	first := uint32(part.Offset / SectorSize)
	entries[0].FirstCHS = lbaToCHS(first)
	entries[0].LastCHS = lbaToCHS(first + entries[0].TotalSectors - 1)

	found := false
	for _, p := range img.Partitions {
		if !found {
			if p == part {
				found = true
			}
			continue
		}
		if !p.Extended {
			continue
		}
		entries[1].PartitionType = 0x0F
		entries[1].RelativeSectors = uint32((p.Offset - w.Opts.Align - w.Resolved.ExtendedLBA) / SectorSize)
		entries[1].TotalSectors = uint32((p.Size + w.Opts.Align) / SectorSize)
		next := uint32((p.Offset - w.Opts.Align) / SectorSize)
		entries[1].FirstCHS = lbaToCHS(next)
		entries[1].LastCHS = lbaToCHS(next + entries[1].TotalSectors - 1)
		break
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &entries); err != nil {
		return fmt.Errorf("gpt: encode ebr: %w", err)
	}
	buf.Write([]byte{0x55, 0xaa})

	offset := int64(part.Offset) - int64(w.Opts.Align) + 446
	if err := fileio.InsertData(w.Outfile, buf.Bytes(), offset); err != nil {
		return fmt.Errorf("gpt: write ebr: %w", err)
	}
	return nil
}

// insertGPT writes the primary GPT header+table at sector 1/gpt-location,
// the backup header+table at the end of the device (unless gpt-no-backup
// is set), and finally either a hybrid MBR (if any in-table partition
// carries a legacy partition type) or a plain protective MBR. Mirrors
// hdimage_insert_gpt.
func (w *Writer) insertGPT(img *model.Image) error {
	var header gptHeader
	copy(header.Signature[:], gptSignature)
	header.Revision = gptRevision
	header.HeaderSize = gptHeaderSize
	header.CurrentLBA = 1
	if w.Opts.GPTNoBackup {
		header.BackupLBA = 1
	} else {
		header.BackupLBA = img.Size/SectorSize - 1
	}
	header.LastUsableLBA = img.Size/SectorSize - 1 - GPTSectors

	diskUUID, err := uuid.Parse(w.Resolved.DiskUUID)
	if err != nil {
		return fmt.Errorf("gpt: disk uuid: %w", err)
	}
	diskUUIDBytes, _ := diskUUID.MarshalBinary()
	copy(header.DiskUUID[:], diskUUIDBytes)

	header.StartingLBA = w.Resolved.GPTLocation / SectorSize
	header.NumberEntries = GPTEntries
	header.EntrySize = gptEntrySize

	var table [GPTEntries]gptPartitionEntry
	i := 0
	hybrid := 0
	for _, part := range img.Partitions {
		if header.FirstUsableLBA == 0 && part.InPartitionTable {
			header.FirstUsableLBA = part.Offset / SectorSize
		}
		if !part.InPartitionTable {
			continue
		}

		typeUUID, err := uuid.Parse(part.PartitionTypeUUID)
		if err != nil {
			return fmt.Errorf("gpt: part %s: type uuid: %w", part.Name, err)
		}
		partUUID, err := uuid.Parse(part.PartitionUUID)
		if err != nil {
			return fmt.Errorf("gpt: part %s: partition uuid: %w", part.Name, err)
		}
		tb, _ := typeUUID.MarshalBinary()
		pb, _ := partUUID.MarshalBinary()
		copy(table[i].TypeUUID[:], tb)
		copy(table[i].UUID[:], pb)
		table[i].FirstLBA = part.Offset / SectorSize
		table[i].LastLBA = (part.Offset+part.Size)/SectorSize - 1

		var flags uint64
		if part.Bootable {
			flags |= gptFlagBootable
		}
		if part.ReadOnly {
			flags |= gptFlagReadOnly
		}
		if part.Hidden {
			flags |= gptFlagHidden
		}
		if part.NoAutomount {
			flags |= gptFlagNoAuto
		}
		table[i].Flags = flags

		for j, r := range part.Name {
			if j >= 36 {
				break
			}
			table[i].Name[j] = uint16(r)
		}

		if part.PartitionType != 0 {
			hybrid++
		}
		i++
	}

	if hybrid > 3 {
		return fmt.Errorf("gpt: hybrid MBR partitions (%d) exceeds maximum of 3", hybrid)
	}

	tableBuf := new(bytes.Buffer)
	if err := binary.Write(tableBuf, binary.LittleEndian, &table); err != nil {
		return fmt.Errorf("gpt: encode gpt table: %w", err)
	}
	header.TableCRC = crc32.ChecksumIEEE(tableBuf.Bytes())

	headerBuf := new(bytes.Buffer)
	header.HeaderCRC = 0
	if err := binary.Write(headerBuf, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("gpt: encode gpt header: %w", err)
	}
	header.HeaderCRC = crc32.ChecksumIEEE(headerBuf.Bytes())

	headerBuf.Reset()
	if err := binary.Write(headerBuf, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("gpt: encode gpt header: %w", err)
	}

	if err := fileio.InsertData(w.Outfile, headerBuf.Bytes(), SectorSize); err != nil {
		return fmt.Errorf("gpt: write gpt header: %w", err)
	}
	if err := fileio.InsertData(w.Outfile, tableBuf.Bytes(), int64(w.Resolved.GPTLocation)); err != nil {
		return fmt.Errorf("gpt: write gpt table: %w", err)
	}

	if !w.Opts.GPTNoBackup {
		if err := fileio.ExtendFile(w.Outfile, img.Size, 0, fileio.ModeAppend); err != nil {
			return fmt.Errorf("gpt: pad to size for backup gpt: %w", err)
		}

		header.HeaderCRC = 0
		header.CurrentLBA = img.Size/SectorSize - 1
		header.BackupLBA = 1
		header.StartingLBA = img.Size/SectorSize - GPTSectors

		headerBuf.Reset()
		if err := binary.Write(headerBuf, binary.LittleEndian, &header); err != nil {
			return fmt.Errorf("gpt: encode backup gpt header: %w", err)
		}
		header.HeaderCRC = crc32.ChecksumIEEE(headerBuf.Bytes())
		headerBuf.Reset()
		if err := binary.Write(headerBuf, binary.LittleEndian, &header); err != nil {
			return fmt.Errorf("gpt: encode backup gpt header: %w", err)
		}

		if err := fileio.InsertData(w.Outfile, tableBuf.Bytes(), int64(img.Size)-int64(GPTSectors)*SectorSize); err != nil {
			return fmt.Errorf("gpt: write backup gpt table: %w", err)
		}
		if err := fileio.InsertData(w.Outfile, headerBuf.Bytes(), int64(img.Size)-SectorSize); err != nil {
			return fmt.Errorf("gpt: write backup gpt header: %w", err)
		}
	}

	if hybrid > 0 {
		return w.insertMBR(img, img.Partitions, true)
	}
	return w.insertProtectiveMBR(img)
}
