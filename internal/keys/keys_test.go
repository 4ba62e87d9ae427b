package keys

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	sk, err := Generate()
	require.NoError(t, err)

	msg := []byte("quote payload to authenticate")
	sig := sk.Sign(msg)

	pub := sk.Public()
	require.True(t, pub.Verify(msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	sk, err := Generate()
	require.NoError(t, err)

	sig := sk.Sign([]byte("original"))
	require.False(t, sk.Public().Verify([]byte("tampered"), sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	sk1, err := Generate()
	require.NoError(t, err)
	sk2, err := Generate()
	require.NoError(t, err)

	msg := []byte("payload")
	sig := sk1.Sign(msg)
	require.False(t, sk2.Public().Verify(msg, sig))
}

func TestPublicKeyBytesRoundTrip(t *testing.T) {
	sk, err := Generate()
	require.NoError(t, err)

	raw := sk.Public().Bytes()
	require.Len(t, raw, 33)

	parsed, err := PublicKeyFromBytes(raw)
	require.NoError(t, err)
	require.True(t, sk.Public().Equal(parsed))
}

func TestFromBytesRoundTrip(t *testing.T) {
	sk, err := Generate()
	require.NoError(t, err)

	sk2, err := FromBytes(sk.Bytes())
	require.NoError(t, err)
	require.True(t, sk.Public().Equal(sk2.Public()))
}

func TestSignatureJSONRoundTrip(t *testing.T) {
	sk, err := Generate()
	require.NoError(t, err)
	sig := sk.Sign([]byte("payload"))

	data, err := json.Marshal(sig)
	require.NoError(t, err)

	var decoded Signature
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, sig.Bytes(), decoded.Bytes())
	require.True(t, sk.Public().Verify([]byte("payload"), decoded))
}
