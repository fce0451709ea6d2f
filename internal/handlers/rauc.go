package handlers

import (
	"fmt"
	"path"
	"strings"

	"github.com/pengutronix/genimage/internal/cfgfile"
	"github.com/pengutronix/genimage/internal/fileio"
	"github.com/pengutronix/genimage/internal/handler"
	"github.com/pengutronix/genimage/internal/model"
	"github.com/pengutronix/genimage/internal/stage"
)

func init() {
	handler.Register(&raucHandler{})
}

// RAUC partition roles, matching image-rauc.c's RAUC_CONTENT/KEY/CERT/
// KEYRING/INTERMEDIATE constants. model.Partition.PartitionType is the MBR
// type-byte field used by hdimage, so this handler keeps the role in its own
// raucPart.role field instead: "" (bundle content, addressed by raucPart's
// name/offset), "key", "cert", "keyring", or "intermediate" (one entry per
// configured intermediate certificate file).
const (
	raucRoleKey         = "key"
	raucRoleCert        = "cert"
	raucRoleKeyring     = "keyring"
	raucRoleIntermediate = "intermediate"
)

const pkcs11Prefix = "pkcs11:"

type raucPart struct {
	role   string // one of the raucRole* constants, or "" for bundle content
	name   string // target path inside the bundle, content partitions only
	image  string
	offset uint64
}

type raucState struct {
	model.HandlerStateBase

	Extraargs           string
	Manifest            string
	Key                 string
	Cert                string
	Keyring             string
	Parts               []raucPart
	Pkcs11Intermediates []string
}

// raucHandler is grounded on _examples/original_source/image-rauc.c's
// rauc_generate/rauc_parse/rauc_setup: stages the manifest and every
// referenced content/key/cert/keyring/intermediate-certificate file into a
// tmppath working directory, then runs "rauc bundle" over it.
type raucHandler struct{}

func (h *raucHandler) Type() string     { return "rauc" }
func (h *raucHandler) NoRootpath() bool { return true }

func (h *raucHandler) Parse(img *model.Image, sec *cfgfile.Section) error {
	key := getString(sec, "key", "")
	if key == "" {
		return fmt.Errorf("rauc: mandatory 'key' option is missing")
	}
	cert := getString(sec, "cert", "")
	if cert == "" {
		return fmt.Errorf("rauc: mandatory 'cert' option is missing")
	}
	keyring := getString(sec, "keyring", "")

	var parts []raucPart
	if !strings.HasPrefix(key, pkcs11Prefix) {
		parts = append(parts, raucPart{role: raucRoleKey, image: key})
	}
	if !strings.HasPrefix(cert, pkcs11Prefix) {
		parts = append(parts, raucPart{role: raucRoleCert, image: cert})
	}
	if keyring != "" {
		parts = append(parts, raucPart{role: raucRoleKeyring, image: keyring})
	}
	var pkcs11Intermediates []string
	for _, uri := range getAll(sec, "intermediate") {
		if strings.HasPrefix(uri, pkcs11Prefix) {
			pkcs11Intermediates = append(pkcs11Intermediates, uri)
		} else {
			parts = append(parts, raucPart{role: raucRoleIntermediate, image: uri})
		}
	}

	for _, fsec := range sec.All("file") {
		offset, err := getSize(fsec, "offset")
		if err != nil {
			return fmt.Errorf("rauc: %w", err)
		}
		parts = append(parts, raucPart{
			name:   fsec.Title,
			image:  getString(fsec, "image", ""),
			offset: offset,
		})
	}
	for _, file := range getAll(sec, "files") {
		parts = append(parts, raucPart{image: file})
	}

	img.HandlerState = &raucState{
		Extraargs:           getString(sec, "extraargs", ""),
		Manifest:            getString(sec, "manifest", ""),
		Key:                 key,
		Cert:                cert,
		Keyring:             keyring,
		Parts:               parts,
		Pkcs11Intermediates: pkcs11Intermediates,
	}
	return nil
}

func (h *raucHandler) Setup(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*raucState)
	if !ok {
		return fmt.Errorf("rauc: image %s has no rauc state", img.File)
	}
	if st.Manifest == "" {
		return fmt.Errorf("rauc: mandatory 'manifest' option is missing")
	}
	return nil
}

func (h *raucHandler) Generate(ctx handler.Context, img *model.Image) error {
	st, ok := img.HandlerState.(*raucState)
	if !ok {
		return fmt.Errorf("rauc: image %s has no rauc state", img.File)
	}
	ex := ctx.Executor()

	tmpdir := fmt.Sprintf("%s/rauc-%s", ctx.TmpPath(), stage.Sanitize(img.File))
	if err := ex.Run("", "mkdir", "-p", tmpdir); err != nil {
		return fmt.Errorf("rauc: %w", err)
	}

	manifestFile := tmpdir + "/manifest.raucm"
	if err := fileio.InsertData(manifestFile, []byte(st.Manifest), 0); err != nil {
		return fmt.Errorf("rauc: %w", err)
	}

	cert, key, keyring := st.Cert, st.Key, st.Keyring
	intermediates := append([]string{}, st.Pkcs11Intermediates...)

	for _, part := range st.Parts {
		var file string
		if part.role != "" || part.name != "" || part.image != "" {
			child, err := resolveImage(ctx, part.image)
			if err != nil {
				return fmt.Errorf("rauc: %w", err)
			}
			file = child.Outfile

			switch part.role {
			case raucRoleCert:
				cert = file
			case raucRoleKey:
				key = file
			case raucRoleKeyring:
				keyring = file
			case raucRoleIntermediate:
				intermediates = append(intermediates, file)
			}

			if part.role != "" {
				continue
			}

			target := part.name
			if target == "" {
				target = path.Base(child.File)
			}

			if dir := path.Dir(target); dir != "." {
				if err := ex.Run("", "mkdir", "-p", tmpdir+"/"+dir); err != nil {
					return fmt.Errorf("rauc: %w", err)
				}
			}

			tmptarget := tmpdir + "/" + target
			ctx.Logf("rauc: adding file %q as %q (offset=%d)...\n", child.File, target, part.offset)

			if part.offset != 0 {
				if err := ex.Run("", "dd", "if="+file, "of="+tmptarget,
					"iflag=skip_bytes", fmt.Sprintf("skip=%d", part.offset)); err != nil {
					return fmt.Errorf("rauc: %w", err)
				}
			} else {
				if err := ex.Run("", "cp", "--remove-destination", file, tmptarget); err != nil {
					return fmt.Errorf("rauc: %w", err)
				}
			}
		}
	}

	_ = ex.Run("", "rm", "-f", img.Outfile)

	args := []string{"bundle", tmpdir, "--cert=" + cert, "--key=" + key}
	if keyring != "" {
		args = append(args, "--keyring="+keyring)
	}
	for _, uri := range intermediates {
		args = append(args, "--intermediate="+uri)
	}
	extra, err := splitExtra(st.Extraargs)
	if err != nil {
		return fmt.Errorf("rauc: %w", err)
	}
	args = append(args, extra...)
	args = append(args, img.Outfile)

	if err := ex.Run("", ctx.Tool("rauc"), args...); err != nil {
		return fmt.Errorf("rauc: %w", err)
	}
	return nil
}
