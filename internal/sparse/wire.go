// Package sparse implements the Android Sparse Image format: a chunked
// encoding of a raw disk image where runs of identical blocks collapse into
// a single RAW/FILL/DONT_CARE chunk header, trailed by a CRC32 of the
// reconstructed output. Used by fastboot/bootloaders that flash eMMC/UFS
// storage without wanting to transfer the holes genimage itself already
// knows about.
//
// Grounded on _examples/original_source/image-android-sparse.c
// (android_sparse_generate and the sparse_header/sparse_chunk_header wire
// structs).
package sparse

const (
	magic           = 0xed26ff3a
	majorVersion    = 1
	minorVersion    = 0
	headerSize      = 28
	chunkHeaderSize = 12
)

const (
	chunkRaw      = 0xCAC1
	chunkFill     = 0xCAC2
	chunkDontCare = 0xCAC3
	chunkCRC32    = 0xCAC4
)

// header is the wire-format sparse_header, little-endian, 28 bytes.
type header struct {
	Magic           uint32
	MajorVersion    uint16
	MinorVersion    uint16
	HeaderSize      uint16
	ChunkHeaderSize uint16
	BlockSize       uint32
	OutputBlocks    uint32
	InputChunks     uint32
	CRC32           uint32
}

// chunkHeader is the wire-format sparse_chunk_header, little-endian, 12
// bytes, immediately followed by Size-ChunkHeaderSize bytes of payload (none
// for DONT_CARE, 4 bytes for FILL/CRC32, Blocks*BlockSize for RAW).
type chunkHeader struct {
	ChunkType uint16
	Reserved  uint16
	Blocks    uint32
	Size      uint32
}
