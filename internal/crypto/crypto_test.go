package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignRecoverRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	digest := KeccakData([]byte("settlement payload"))
	sig := key.Sign(digest)

	recovered, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, key.Address(), recovered)
}

func TestRecoverWrongDigest(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	sig := key.Sign(KeccakData([]byte("original")))

	// Recovery over a different digest either fails outright or yields some
	// other address; it must never yield the signer.
	recovered, err := RecoverAddress(KeccakData([]byte("tampered")), sig)
	if err == nil {
		assert.NotEqual(t, key.Address(), recovered)
	}
}

func TestRecoverMangledSignature(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	digest := KeccakData([]byte("payload"))
	sig := key.Sign(digest)
	sig[0] ^= 0xff // corrupt the recovery header

	_, err = RecoverAddress(digest, sig)
	assert.Error(t, err)
}

func TestPrivateKeySerializeRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	restored, err := PrivateKeyFromBytes(key.Serialize())
	require.NoError(t, err)
	assert.Equal(t, key.Address(), restored.Address())
}

func TestPrivateKeyFromBytesRejectsBadLength(t *testing.T) {
	_, err := PrivateKeyFromBytes(make([]byte, 31))
	assert.Error(t, err)
}

func TestAddressParseRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.Address()

	parsed, err := ParseAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)

	// Without the 0x prefix as well.
	parsed, err = ParseAddress(addr.String()[2:])
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)
}

func TestAddressCompare(t *testing.T) {
	a := Address{0x01}
	b := Address{0x02}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestHashParseRoundTrip(t *testing.T) {
	h := KeccakData([]byte("x"))

	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("0xzz")
	assert.Error(t, err)
	_, err = ParseHash("0x0102")
	assert.Error(t, err)
}
