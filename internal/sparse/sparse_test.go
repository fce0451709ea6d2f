package sparse

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const blockSize = 512

func readHeader(t *testing.T, data []byte) header {
	t.Helper()
	var h header
	require.NoError(t, binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &h))
	return h
}

// decode reconstructs the raw block_size*output_blocks image the sparse
// file describes, so tests can assert it matches the original input.
func decode(t *testing.T, data []byte) []byte {
	t.Helper()
	h := readHeader(t, data)
	require.Equal(t, uint32(magic), h.Magic)

	out := make([]byte, 0, int(h.OutputBlocks)*int(h.BlockSize))
	pos := int(h.HeaderSize)
	for i := uint32(0); i < h.InputChunks; i++ {
		var ch chunkHeader
		require.NoError(t, binary.Read(bytes.NewReader(data[pos:pos+chunkHeaderSize]), binary.LittleEndian, &ch))
		payload := data[pos+chunkHeaderSize : pos+int(ch.Size)]

		switch ch.ChunkType {
		case chunkRaw:
			out = append(out, payload...)
		case chunkFill:
			value := payload[:4]
			for b := uint32(0); b < ch.Blocks; b++ {
				for j := uint32(0); j < h.BlockSize/4; j++ {
					out = append(out, value...)
				}
			}
		case chunkDontCare:
			out = append(out, make([]byte, int(ch.Blocks)*int(h.BlockSize))...)
		case chunkCRC32:
		default:
			t.Fatalf("unknown chunk type %x", ch.ChunkType)
		}

		pos += int(ch.Size)
	}
	return out
}

func TestGenerateRoundTripsRawHoleAndFillBlocks(t *testing.T) {
	dir := t.TempDir()
	infile := filepath.Join(dir, "in.raw")
	outfile := filepath.Join(dir, "out.sparse")

	block0 := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, blockSize/8)
	block1 := make([]byte, blockSize)
	block2 := bytes.Repeat([]byte{0xaa, 0xaa, 0xaa, 0xaa}, blockSize/4)

	var input []byte
	input = append(input, block0...)
	input = append(input, block1...)
	input = append(input, block2...)
	require.NoError(t, os.WriteFile(infile, input, 0o644))

	stats, err := Generate(outfile, infile, blockSize)
	require.NoError(t, err)
	require.Equal(t, uint32(3), stats.Blocks)

	data, err := os.ReadFile(outfile)
	require.NoError(t, err)

	h := readHeader(t, data)
	require.Equal(t, uint32(3), h.OutputBlocks)
	require.Equal(t, uint32(blockSize), h.BlockSize)

	reconstructed := decode(t, data)
	require.Equal(t, input, reconstructed)
}

func TestGenerateEmptyFileYieldsOnlyDontCareAndCRC(t *testing.T) {
	dir := t.TempDir()
	infile := filepath.Join(dir, "in.raw")
	outfile := filepath.Join(dir, "out.sparse")

	require.NoError(t, os.WriteFile(infile, make([]byte, 4*blockSize), 0o644))

	stats, err := Generate(outfile, infile, blockSize)
	require.NoError(t, err)
	require.Equal(t, uint32(4), stats.Blocks)
	require.Equal(t, uint32(2), stats.Chunks) // one DONT_CARE + one CRC32

	data, err := os.ReadFile(outfile)
	require.NoError(t, err)
	reconstructed := decode(t, data)
	require.Equal(t, make([]byte, 4*blockSize), reconstructed)
}
