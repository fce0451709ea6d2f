package mdraid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pengutronix/genimage/internal/fileio"
	"github.com/pengutronix/genimage/internal/model"
)

// Options holds the mdraid subsection's configured fields, ported from
// mdraid_opts.
type Options struct {
	Label     string
	Level     int
	Devices   int
	Role      int   // -1 means auto-assign
	Timestamp int64 // -1 means use the shared array-creation time
	RaidUUID  string
	DiskUUID  string
	Image     string // data image to embed at dataOffsetBytes
	Parent    string // sibling mdraid image to inherit array metadata from
}

// State is the per-image mdraid handler state attached to
// model.Image.HandlerState between Setup and Generate.
type State struct {
	model.HandlerStateBase

	Opts Options

	Parent    *State
	DataImage *model.Image

	Superblock *superblock1
	DevRoles   []uint16
	Bitmap     bitmapSuperblock

	// LastRole tracks the highest auto-assigned role handed out to a
	// child that inherits from this image, mirroring mdraid_img_t's
	// last_role counter.
	LastRole int
}

// ImageLookup resolves an image reference by name, the same way image_get
// does.
type ImageLookup func(name string) (*model.Image, bool)

// Parse validates the configured raid level and registers "parent"/"data"
// partitions so the dependency graph builds them first, mirroring
// mdraid_parse's two list_add_tail calls. Unlike the original, the
// effective data-image name (which, when a parent is set, is inherited from
// the parent's own "image" option) must already be resolved into
// opts.Image by the caller, since this package has no access to another
// image's raw config section.
func Parse(img *model.Image, opts Options) error {
	if opts.Level != 1 {
		return fmt.Errorf("mdraid: only raid level 1 (mirror) is currently supported, got %d", opts.Level)
	}

	if opts.Parent != "" {
		img.Partitions = append(img.Partitions, &model.Partition{Name: "parent", Image: opts.Parent})
	}
	if opts.Image != "" {
		img.Partitions = append(img.Partitions, &model.Partition{Name: "data", Image: opts.Image})
	}

	img.HandlerState = &State{Opts: opts, LastRole: 0}
	return nil
}

// Setup resolves the parent/data image references and the image's final
// size. Ported from mdraid_setup, plus the parent-size inheritance
// mdraid_parse performs eagerly in the original: here it runs in Setup
// instead, since the dependency graph guarantees the parent's own Setup
// (and therefore its resolved Size) runs first, where at parse time every
// image's Parse runs before any Setup and the parent's size may still be
// unresolved.
func Setup(img *model.Image, lookup ImageLookup) error {
	st, ok := img.HandlerState.(*State)
	if !ok {
		return fmt.Errorf("mdraid: image %s has no mdraid state", img.Name)
	}
	opts := st.Opts

	if opts.Parent != "" {
		parent, ok := lookup(opts.Parent)
		if !ok {
			return fmt.Errorf("mdraid: could not find parent image %s", opts.Parent)
		}
		parentState, ok := parent.HandlerState.(*State)
		if !ok {
			return fmt.Errorf("mdraid: parent %s is not an mdraid image", opts.Parent)
		}
		st.Parent = parentState
		if img.Size == 0 {
			img.Size = parent.Size
		}
	}

	if opts.Image != "" {
		data, ok := lookup(opts.Image)
		if !ok {
			return fmt.Errorf("mdraid: could not find data image %s", opts.Image)
		}
		st.DataImage = data
		if img.Size == 0 {
			img.Size = roundup(data.Size+dataOffsetBytes, alignBytes)
		}
		if img.Size < data.Size+dataOffsetBytes {
			return fmt.Errorf("mdraid: image too small to fit %s", data.File)
		}
	}

	if img.Size != roundup(img.Size, alignBytes) {
		return fmt.Errorf("mdraid: image size (%d) must be aligned to %d bytes", img.Size, alignBytes)
	}

	return nil
}

// Generate builds the superblock and bitmap superblock (inheriting both
// from the parent image if one was configured), assigns this device's
// role, and writes superblock + bitmap + data into img.Outfile. now is the
// array-creation timestamp shared across every mdraid image generated in
// this run, the Go equivalent of the original's process-lifetime static
// mdraid_time. Ported from mdraid_generate.
func Generate(img *model.Image, now time.Time) error {
	st, ok := img.HandlerState.(*State)
	if !ok {
		return fmt.Errorf("mdraid: image %s has no mdraid state", img.Name)
	}
	opts := st.Opts

	maxDevices := opts.Devices
	if st.Parent != nil {
		maxDevices = int(st.Parent.Superblock.RaidDisks)
	}

	role := opts.Role
	if role == -1 {
		if st.Parent != nil {
			st.Parent.LastRole++
			role = st.Parent.LastRole
		} else {
			role = 0
		}
	}
	if role < 0 || role > diskRoleMax {
		return fmt.Errorf("mdraid: role must be between 0 and %d", diskRoleMax)
	}
	if role >= maxDevices {
		return fmt.Errorf("mdraid: role %d must be lower than the total device count %d (roles are counted from 0)", role, maxDevices)
	}

	devRoles := make([]uint16, maxDevices)
	var sb superblock1
	var bsb bitmapSuperblock

	if st.Parent != nil {
		sb = *st.Parent.Superblock
		copy(devRoles, st.Parent.DevRoles)
		bsb = st.Parent.Bitmap
	} else {
		setUUID, err := resolveOrGenerateUUID(opts.RaidUUID)
		if err != nil {
			return fmt.Errorf("mdraid: raid-uuid: %w", err)
		}

		sb = superblock1{
			Magic:        sbMagic,
			MajorVersion: sbMajorVersion,
			FeatureMap:   featureBitmapOffset,
		}
		copy(sb.SetUUID[:], setUUID[:])
		copy(sb.SetName[:], []byte(opts.Label))

		ctime := opts.Timestamp
		if ctime < 0 {
			ctime = now.Unix()
		}
		sb.Ctime = uint64(ctime) & 0xffffffffff
		sb.Level = 1
		sb.Size = (img.Size - dataOffsetBytes) / 512
		sb.ChunkSize = 0
		sb.RaidDisks = uint32(maxDevices)

		for i := range devRoles {
			devRoles[i] = uint16(i)
		}

		bsb = bitmapSuperblock{
			Magic:         bitmapMagic,
			Version:       bitmapVersion,
			SyncSize:      sb.Size,
			ChunkSize:     64 * 1024 * 1024,
			DaemonSleep:   5,
		}
		copy(bsb.UUID[:], sb.SetUUID[:])
		bsb.SectorsReserved = roundup32(uint32(bsb.SyncSize/uint64(bsb.ChunkSize)), 8)
		for bsb.SectorsReserved > bitmapSectorsMax {
			bsb.ChunkSize *= 2
			bsb.SectorsReserved = roundup32(uint32(bsb.SyncSize/uint64(bsb.ChunkSize)), 8)
		}
	}

	sb.BitmapOffset = 8
	sb.DataOffset = dataOffsetSectors
	sb.DataSize = sb.Size
	sb.SuperOffset = 8
	sb.DevNumber = uint32(role)
	sb.CntCorrectedRead = 0

	deviceUUID, err := resolveOrGenerateUUID(opts.DiskUUID)
	if err != nil {
		return fmt.Errorf("mdraid: disk-uuid: %w", err)
	}
	copy(sb.DeviceUUID[:], deviceUUID[:])

	sb.DevFlags = 0
	sb.BblogShift = 9
	sb.BblogSize = 8
	sb.BblogOffset = sb.BitmapOffset + bitmapSectorsMax + 8

	sb.Utime = sb.Ctime
	sb.Events = 0
	sb.ResyncOffset = 0
	sb.MaxDev = uint32(maxDevices)

	sb.SbCsum = calcChecksum(&sb, devRoles)

	st.Superblock = &sb
	st.DevRoles = devRoles
	st.Bitmap = bsb

	if err := fileio.PrepareImage(img.Outfile, img.Size); err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}

	sbBuf, err := encodeSuperblock(&sb, devRoles)
	if err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}
	if err := fileio.InsertData(img.Outfile, sbBuf, int64(sb.SuperOffset)*512); err != nil {
		return fmt.Errorf("mdraid: %w", err)
	}

	if sb.FeatureMap&featureBitmapOffset != 0 {
		bsbBuf, err := encodeBitmap(&bsb)
		if err != nil {
			return fmt.Errorf("mdraid: %w", err)
		}
		if err := fileio.InsertData(img.Outfile, bsbBuf, int64(sb.SuperOffset+uint64(sb.BitmapOffset))*512); err != nil {
			return fmt.Errorf("mdraid: %w", err)
		}
	}

	if st.DataImage != nil {
		if err := fileio.InsertImage(img.Outfile, st.DataImage.Outfile, st.DataImage.Size, dataOffsetBytes); err != nil {
			return fmt.Errorf("mdraid: %w", err)
		}
	}

	return nil
}

func resolveOrGenerateUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func encodeSuperblock(sb *superblock1, devRoles []uint16) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, sb); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, devRoles); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeBitmap(bsb *bitmapSuperblock) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, bsb); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// calcChecksum ports calc_sb_1_csum: the ones'-complement-style fold of
// every 32-bit little-endian word across the superblock (with sb_csum
// itself zeroed) plus its dev_roles[] tail, with a trailing 16-bit word
// folded in separately if that combined length isn't a multiple of 4.
func calcChecksum(sb *superblock1, devRoles []uint16) uint32 {
	saved := sb.SbCsum
	sb.SbCsum = 0
	buf, _ := encodeSuperblock(sb, devRoles)
	sb.SbCsum = saved

	var sum uint64
	i := 0
	for ; i+4 <= len(buf); i += 4 {
		sum += uint64(binary.LittleEndian.Uint32(buf[i : i+4]))
	}
	if len(buf)-i == 2 {
		sum += uint64(binary.LittleEndian.Uint16(buf[i : i+2]))
	}
	return uint32(sum&0xffffffff) + uint32(sum>>32)
}

func roundup(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

func roundup32(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}
