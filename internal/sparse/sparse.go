package sparse

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/pengutronix/genimage/internal/fileio"
)

// dataRange is a byte range [start, end) of infile known to contain at
// least one non-zero byte, aligned outward to BlockSize.
type dataRange struct {
	start, end uint64
}

// dataRanges is the complement of fileio.MapExtents's hole ranges within
// [0, size), aligned to blockSize and re-merged the way
// android_sparse_generate's own extent-alignment loop does, since aligning
// a hole's boundaries outward can make two previously-distinct data ranges
// touch or overlap.
func dataRanges(infile string, size, blockSize uint64) ([]dataRange, error) {
	holes, err := fileio.MapExtents(infile, blockSize)
	if err != nil {
		return nil, err
	}

	var raw []dataRange
	var pos uint64
	for _, h := range holes {
		if h.Start > pos {
			raw = append(raw, dataRange{pos, h.Start})
		}
		pos = h.End
	}
	if pos < size {
		raw = append(raw, dataRange{pos, size})
	}

	var merged []dataRange
	for _, r := range raw {
		start := r.start / blockSize * blockSize
		end := (r.end - 1 + blockSize) / blockSize * blockSize
		if end > size {
			end = size
		}
		if len(merged) > 0 && start <= merged[len(merged)-1].end {
			if end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = end
			}
			continue
		}
		merged = append(merged, dataRange{start, end})
	}

	return merged, nil
}

// isFill reports whether every 32-bit word of buf (len(buf) a multiple of
// 4) equals the first, and if so returns that repeated value.
func isFill(buf []byte) (bool, uint32) {
	first := binary.LittleEndian.Uint32(buf[0:4])
	for i := 4; i+4 <= len(buf); i += 4 {
		if binary.LittleEndian.Uint32(buf[i:i+4]) != first {
			return false, 0
		}
	}
	return true, first
}

// Stats reports the chunk/block counts Generate wrote, for the "sparse
// image with %u chunks and %u blocks" info line.
type Stats struct {
	Chunks uint32
	Blocks uint32
}

// Generate reads infile and writes it to outfile in Android sparse format
// with the given block size (which must be a multiple of 512, validated by
// the caller). Ported from android_sparse_generate: a DONT_CARE chunk for
// every block-aligned hole, runs of identical blocks collapsed into FILL
// chunks, everything else written verbatim as RAW chunks, and a trailing
// CRC32 chunk over every block of the reconstructed (hole-zeroed) output.
func Generate(outfile, infile string, blockSize uint64) (Stats, error) {
	in, err := os.Open(infile)
	if err != nil {
		return Stats{}, fmt.Errorf("sparse: open %s: %w", infile, err)
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return Stats{}, fmt.Errorf("sparse: stat %s: %w", infile, err)
	}
	size := uint64(st.Size())
	blockCount := (size + blockSize - 1) / blockSize

	ranges, err := dataRanges(infile, size, blockSize)
	if err != nil {
		return Stats{}, fmt.Errorf("sparse: %w", err)
	}

	out, err := os.Create(outfile)
	if err != nil {
		return Stats{}, fmt.Errorf("sparse: create %s: %w", outfile, err)
	}
	defer out.Close()

	if _, err := out.Seek(headerSize, io.SeekStart); err != nil {
		return Stats{}, fmt.Errorf("sparse: %w", err)
	}

	crc := crc32.NewIEEE()
	zeroBlock := make([]byte, blockSize)
	buf := make([]byte, blockSize)

	var inputChunks uint32
	var curBlock uint64

	writeDontCare := func(blocks uint32) error {
		if blocks == 0 {
			return nil
		}
		inputChunks++
		ch := chunkHeader{ChunkType: chunkDontCare, Blocks: blocks, Size: chunkHeaderSize}
		if err := binary.Write(out, binary.LittleEndian, ch); err != nil {
			return err
		}
		for i := uint32(0); i < blocks; i++ {
			crc.Write(zeroBlock)
		}
		return nil
	}

	for _, r := range ranges {
		startBlock := r.start / blockSize
		if curBlock < startBlock {
			if err := writeDontCare(uint32(startBlock - curBlock)); err != nil {
				return Stats{}, fmt.Errorf("sparse: %w", err)
			}
			curBlock = startBlock
		}

		if _, err := in.Seek(int64(r.start), io.SeekStart); err != nil {
			return Stats{}, fmt.Errorf("sparse: seek %s: %w", infile, err)
		}

		var runType uint16
		var runBlocks uint32
		var runSize uint32
		var fillValue uint32
		var runStart int64

		flush := func() error {
			if runType == 0 {
				return nil
			}
			inputChunks++
			cur, err := out.Seek(0, io.SeekCurrent)
			if err != nil {
				return err
			}
			if _, err := out.Seek(runStart, io.SeekStart); err != nil {
				return err
			}
			ch := chunkHeader{ChunkType: runType, Blocks: runBlocks, Size: runSize}
			if err := binary.Write(out, binary.LittleEndian, ch); err != nil {
				return err
			}
			if _, err := out.Seek(cur, io.SeekStart); err != nil {
				return err
			}
			runType = 0
			return nil
		}

		remaining := r.end - r.start
		for remaining > 0 {
			want := blockSize
			if remaining < want {
				want = remaining
			}
			n, err := io.ReadFull(in, buf[:want])
			if err != nil && err != io.ErrUnexpectedEOF {
				return Stats{}, fmt.Errorf("sparse: read %s: %w", infile, err)
			}
			if uint64(n) < blockSize {
				for i := n; i < int(blockSize); i++ {
					buf[i] = 0
				}
			}
			crc.Write(buf)

			fill, value := isFill(buf)
			if fill {
				if runType != chunkFill || fillValue != value {
					if err := flush(); err != nil {
						return Stats{}, fmt.Errorf("sparse: %w", err)
					}
					runStart, err = out.Seek(0, io.SeekCurrent)
					if err != nil {
						return Stats{}, fmt.Errorf("sparse: %w", err)
					}
					runType = chunkFill
					runBlocks = 0
					runSize = chunkHeaderSize + 4
					fillValue = value
					if _, err := out.Seek(chunkHeaderSize, io.SeekCurrent); err != nil {
						return Stats{}, fmt.Errorf("sparse: %w", err)
					}
					var v [4]byte
					binary.LittleEndian.PutUint32(v[:], value)
					if _, err := out.Write(v[:]); err != nil {
						return Stats{}, fmt.Errorf("sparse: %w", err)
					}
				}
				runBlocks++
			} else {
				if runType != chunkRaw {
					if err := flush(); err != nil {
						return Stats{}, fmt.Errorf("sparse: %w", err)
					}
					runStart, err = out.Seek(0, io.SeekCurrent)
					if err != nil {
						return Stats{}, fmt.Errorf("sparse: %w", err)
					}
					runType = chunkRaw
					runBlocks = 0
					runSize = chunkHeaderSize
					if _, err := out.Seek(chunkHeaderSize, io.SeekCurrent); err != nil {
						return Stats{}, fmt.Errorf("sparse: %w", err)
					}
				}
				runBlocks++
				runSize += uint32(blockSize)
				if _, err := out.Write(buf); err != nil {
					return Stats{}, fmt.Errorf("sparse: %w", err)
				}
			}

			remaining -= want
		}

		if err := flush(); err != nil {
			return Stats{}, fmt.Errorf("sparse: %w", err)
		}
		curBlock = (r.end - 1 + blockSize) / blockSize
	}

	if curBlock < blockCount {
		if err := writeDontCare(uint32(blockCount - curBlock)); err != nil {
			return Stats{}, fmt.Errorf("sparse: %w", err)
		}
	}

	inputChunks++
	crcSum := crc.Sum32()
	ch := chunkHeader{ChunkType: chunkCRC32, Size: chunkHeaderSize + 4}
	if err := binary.Write(out, binary.LittleEndian, ch); err != nil {
		return Stats{}, fmt.Errorf("sparse: %w", err)
	}
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], crcSum)
	if _, err := out.Write(v[:]); err != nil {
		return Stats{}, fmt.Errorf("sparse: %w", err)
	}

	hdr := header{
		Magic:           magic,
		MajorVersion:    majorVersion,
		MinorVersion:    minorVersion,
		HeaderSize:      headerSize,
		ChunkHeaderSize: chunkHeaderSize,
		BlockSize:       uint32(blockSize),
		OutputBlocks:    uint32(blockCount),
		InputChunks:     inputChunks,
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return Stats{}, fmt.Errorf("sparse: %w", err)
	}
	if err := binary.Write(out, binary.LittleEndian, hdr); err != nil {
		return Stats{}, fmt.Errorf("sparse: %w", err)
	}

	return Stats{Chunks: inputChunks, Blocks: uint32(blockCount)}, nil
}
