package cert

import (
	"crypto/ed25519"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCert(t *testing.T, validity time.Duration) (*Generator, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return NewGenerator(Config{
		PublicKey:          pub,
		PrivateKey:         priv,
		CertValidityPeriod: validity,
	}), pub
}

func TestGenerateCertificate(t *testing.T) {
	gen, pub := newTestCert(t, 24*time.Hour)
	cert, err := gen.GenerateCertificate()
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)

	require.Len(t, cert.Leaf.DNSNames, 1)
	dnsName := cert.Leaf.DNSNames[0]
	assert.Len(t, dnsName, 53)
	assert.Equal(t, byte('e'), dnsName[0])
	assert.Equal(t, EncodePubKeyToDNS(pub), dnsName)

	parsed, err := x509.ParseCertificate(cert.Leaf.Raw)
	require.NoError(t, err)
	assert.NotNil(t, parsed)
}

func TestValidateCertificate(t *testing.T) {
	gen, _ := newTestCert(t, 24*time.Hour)
	cert, err := gen.GenerateCertificate()
	require.NoError(t, err)

	assert.NoError(t, NewValidator().ValidateCertificate(cert.Leaf))
}

func TestValidateCertificateMismatchedKey(t *testing.T) {
	gen, _ := newTestCert(t, 24*time.Hour)
	cert, err := gen.GenerateCertificate()
	require.NoError(t, err)

	wrongPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	cert.Leaf.PublicKey = wrongPub

	assert.Error(t, NewValidator().ValidateCertificate(cert.Leaf))
}

func TestValidateCertificateExpired(t *testing.T) {
	gen, _ := newTestCert(t, -1*time.Hour)
	cert, err := gen.GenerateCertificate()
	require.NoError(t, err)

	err = NewValidator().ValidateCertificate(cert.Leaf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate has expired")
}

func TestValidateCertificateNotYetValid(t *testing.T) {
	gen, _ := newTestCert(t, 24*time.Hour)
	cert, err := gen.GenerateCertificate()
	require.NoError(t, err)
	cert.Leaf.NotBefore = time.Now().Add(1 * time.Hour)

	err = NewValidator().ValidateCertificate(cert.Leaf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate is not yet valid")
}

func TestDNSKeyRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	decoded, err := DecodeDNSToPubKey(EncodePubKeyToDNS(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, decoded)

	_, err = DecodeDNSToPubKey("not-a-dns-identity")
	assert.Error(t, err)
}
