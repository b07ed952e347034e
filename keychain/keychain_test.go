package keychain

import (
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func testSeed() []byte {
	seed := sha256.Sum256([]byte("test-master-seed"))
	return seed[:]
}

func TestDerivePrivKeyIsDeterministic(t *testing.T) {
	kr, err := New(testSeed())
	require.NoError(t, err)

	priv1, err := kr.DerivePrivKey("alice")
	require.NoError(t, err)
	priv2, err := kr.DerivePrivKey("alice")
	require.NoError(t, err)

	require.Equal(t, crypto.FromECDSA(priv1), crypto.FromECDSA(priv2))
}

func TestDeriveAddressDiffersPerUser(t *testing.T) {
	kr, err := New(testSeed())
	require.NoError(t, err)

	alice, err := kr.DeriveAddress("alice")
	require.NoError(t, err)
	bob, err := kr.DeriveAddress("bob")
	require.NoError(t, err)

	require.NotEqual(t, alice, bob)
}

func TestNewRejectsShortSeed(t *testing.T) {
	_, err := New([]byte("too-short"))
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := sha256.Sum256([]byte("aes-key"))
	plaintext := []byte("super secret private key bytes!")

	encoded, err := EncryptPrivateKey(key[:], plaintext)
	require.NoError(t, err)

	decoded, err := DecryptPrivateKey(key[:], encoded)
	require.NoError(t, err)

	require.Equal(t, plaintext, decoded)
}

func TestDecryptRejectsMalformed(t *testing.T) {
	key := sha256.Sum256([]byte("aes-key"))
	_, err := DecryptPrivateKey(key[:], "not-a-valid-secret")
	require.Error(t, err)
}
