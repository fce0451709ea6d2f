package verity

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pengutronix/genimage/internal/handler"
)

// sigEnvelope is the UAPI Discoverable Partitions Specification "verity
// signature" JSON object: a root hash, the fingerprint of the signing
// certificate, and a CMS/PKCS#7 signature over the root hash, PEM-armored
// but with the "-----BEGIN/END CMS-----" markers stripped. Field order is
// significant: rootHash, certificateFingerprint, signature, matching the
// order every known producer/consumer of this format emits.
type sigEnvelope struct {
	RootHash               string `json:"rootHash"`
	CertificateFingerprint string `json:"certificateFingerprint"`
	Signature              string `json:"signature"`
}

const sigPadding = 4096

// GenerateSig reads the root hash veritysetup wrote for verityFile, signs
// it with certFile/keyFile via "openssl cms -sign", and writes the
// resulting JSON envelope to outfile, NUL-padded to the next 4096-byte
// boundary.
func GenerateSig(ctx handler.Context, tmpPath, verityFile, certFile, keyFile, outfile string) error {
	rootHash, err := os.ReadFile(RootHashPath(tmpPath, verityFile))
	if err != nil {
		return fmt.Errorf("verity-sig: reading root hash: %w", err)
	}
	hash := strings.TrimSpace(string(rootHash))

	// Bypasses ctx.Executor(): Run/RunShell stream to this process's
	// stdout/stderr and don't expose a captured pipe, but the CMS signature
	// this needs comes back on stdout. Tool name is still resolved through
	// the option store so an "openssl = ..." override still works.
	cmd := exec.Command(ctx.Tool("openssl"), "cms", "-sign",
		"-in", RootHashPath(tmpPath, verityFile),
		"-signer", certFile,
		"-inkey", keyFile,
		"-nosmimecap", "-binary", "-outform", "PEM")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("verity-sig: openssl cms -sign: %w", err)
	}

	signature, err := stripPEMMarkers(out.Bytes())
	if err != nil {
		return fmt.Errorf("verity-sig: %w", err)
	}

	fingerprint, err := certificateFingerprint(certFile)
	if err != nil {
		return fmt.Errorf("verity-sig: %w", err)
	}

	env := sigEnvelope{
		RootHash:               hash,
		CertificateFingerprint: fingerprint,
		Signature:              signature,
	}
	content, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("verity-sig: %w", err)
	}

	padded := len(content)
	if padded%sigPadding != 0 {
		padded += sigPadding - padded%sigPadding
	}
	buf := make([]byte, padded)
	copy(buf, content)

	if err := os.WriteFile(outfile, buf, 0o644); err != nil {
		return fmt.Errorf("verity-sig: writing %s: %w", outfile, err)
	}

	return nil
}

// stripPEMMarkers removes the "-----BEGIN CMS-----"/"-----END CMS-----"
// (or PKCS7) wrapper lines from an openssl "-outform PEM" signature,
// leaving just the base64 body as one string with no embedded newlines.
func stripPEMMarkers(pemBytes []byte) (string, error) {
	var lines []string
	for _, line := range strings.Split(string(pemBytes), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("no PEM body found in openssl cms output")
	}
	return strings.Join(lines, ""), nil
}

func certificateFingerprint(certFile string) (string, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", certFile, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return "", fmt.Errorf("%s is not a PEM certificate", certFile)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", certFile, err)
	}
	sum := sha256.Sum256(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}
