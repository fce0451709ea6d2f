package verity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripPEMMarkersRemovesWrapperKeepsBody(t *testing.T) {
	in := "-----BEGIN CMS-----\nAAAA\nBBBB\n-----END CMS-----\n"
	out, err := stripPEMMarkers([]byte(in))
	require.NoError(t, err)
	require.Equal(t, "AAAABBBB", out)
}

func TestStripPEMMarkersRejectsEmptyInput(t *testing.T) {
	_, err := stripPEMMarkers([]byte("\n\n"))
	require.Error(t, err)
}

func selfSignedCert(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "verity-sig test"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestCertificateFingerprintMatchesSHA256OfDER(t *testing.T) {
	dir := t.TempDir()
	certPEM := selfSignedCert(t)
	certFile := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	want := sha256.Sum256(block.Bytes)

	got, err := certificateFingerprint(certFile)
	require.NoError(t, err)
	require.Equal(t, strings.ToUpper(hex.EncodeToString(want[:])), got)
}
