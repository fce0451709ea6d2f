package gpt

// lbaToCHS converts a logical block address to a 3-byte CHS (Cylinder/
// Head/Sector) address using the fixed 255 heads/63 sectors-per-track
// geometry every modern MBR tool assumes, ported from lba_to_chs. Per
// spec.md's resolved Open Question, CHS is always computed relative to lba
// 0 of the whole device, never relative to an extended partition's start.
func lbaToCHS(lba uint32) [3]byte {
	const hpc = 255
	const spt = 63

	h := (lba / spt) % hpc
	c := lba / (spt * hpc)
	var s uint32
	if lba > 0 {
		s = lba%spt + 1
	}

	var chs [3]byte
	chs[0] = byte(h)
	chs[1] = byte(((c & 0x300) >> 2) | (s & 0xff))
	chs[2] = byte(c & 0xff)
	return chs
}

// setCHS fills both CHS fields of entry from its LBA range, mirroring
// hdimage_setup_chs.
func setCHS(entry *mbrPartitionEntry) {
	entry.FirstCHS = lbaToCHS(entry.RelativeSectors)
	entry.LastCHS = lbaToCHS(entry.RelativeSectors + entry.TotalSectors - 1)
}
