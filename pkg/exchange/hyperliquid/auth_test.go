package hyperliquid

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func sampleOrderAction() Action {
	return buildPlaceOrderAction(orderPayload{
		Asset:     1,
		IsBuy:     true,
		LimitPx:   "50000",
		Sz:        "0.001",
		OrderType: orderTypePayload{Limit: &limitOrderPayload{TIF: tifGTC}},
	})
}

func TestKeySigner(t *testing.T) {
	signer, err := NewKeySigner(strings.TrimPrefix(testKey, "0x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signer.Address(), "0x"))
	assert.Equal(t, strings.ToLower(signer.Address()), signer.Address())

	digest := crypto.Keccak256([]byte("payload"))
	sig, err := signer.Sign(digest)
	require.NoError(t, err)
	assert.Contains(t, []int{27, 28}, sig.V)
	assert.Len(t, sig.R, 66)

	_, err = signer.Sign([]byte("short"))
	assert.Error(t, err)

	_, err = NewKeySigner("")
	assert.Error(t, err)
	_, err = NewKeySigner("0xnothex")
	assert.Error(t, err)
}

func TestActionHash(t *testing.T) {
	action := sampleOrderAction()
	nonce := int64(1700000000000)

	plain, err := actionHash(action, nonce, "")
	require.NoError(t, err)
	assert.Len(t, plain, 32)

	again, err := actionHash(action, nonce, "")
	require.NoError(t, err)
	assert.Equal(t, plain, again, "hash is deterministic")

	vaulted, err := actionHash(action, nonce, "0x00000000000000000000000000000000000000bb")
	require.NoError(t, err)
	assert.NotEqual(t, plain, vaulted)

	bumped, err := actionHash(action, nonce+1, "")
	require.NoError(t, err)
	assert.NotEqual(t, plain, bumped)

	_, err = actionHash(action, 0, "")
	assert.Error(t, err)
	_, err = actionHash(action, nonce, "vault")
	assert.Error(t, err)
}

func TestActionDigestSource(t *testing.T) {
	action := sampleOrderAction()
	mainnet, err := actionDigest(action, 1, "", true)
	require.NoError(t, err)
	testnet, err := actionDigest(action, 1, "", false)
	require.NoError(t, err)
	assert.NotEqual(t, mainnet, testnet)
}

func TestSignActionRecoversSigner(t *testing.T) {
	signer, err := NewKeySigner(testKey)
	require.NoError(t, err)
	action := sampleOrderAction()

	req, err := signAction(action, signer, 1700000005000, "", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000005000), req.Nonce)
	assert.Equal(t, action, req.Action)

	digest, err := actionDigest(action, req.Nonce, "", true)
	require.NoError(t, err)
	sig := append(common.FromHex(req.Signature.R), common.FromHex(req.Signature.S)...)
	sig = append(sig, byte(req.Signature.V-27))
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()))

	_, err = signAction(action, nil, 1, "", true)
	assert.Error(t, err)
}

// The venue hashes the msgpack encoding, so key order is part of the wire
// contract.
func TestActionMsgpackKeyOrder(t *testing.T) {
	keys := func(a Action) []string {
		raw, err := msgpack.Marshal(a)
		require.NoError(t, err)
		dec := msgpack.NewDecoder(bytes.NewReader(raw))
		n, err := dec.DecodeMapLen()
		require.NoError(t, err)
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			k, err := dec.DecodeString()
			require.NoError(t, err)
			out = append(out, k)
			require.NoError(t, dec.Skip())
		}
		return out
	}
	assert.Equal(t, []string{"type", "orders", "grouping"}, keys(sampleOrderAction()))
	assert.Equal(t, []string{"type", "cancels"}, keys(buildCancelAction(0, "12")))
	assert.Equal(t, []string{"type", "asset", "isCross", "leverage"}, keys(buildLeverageAction(0, true, 5)))
}

func TestToCloid(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "0x"+strings.ReplaceAll(id.String(), "-", ""), toCloid(id.String()))
	assert.Equal(t, "0x0123456789abcdef0123456789abcdef", toCloid("0x0123456789ABCDEF0123456789ABCDEF"))

	hashed := toCloid("bracket-7-tp")
	assert.Len(t, hashed, 34)
	assert.Equal(t, hashed, toCloid("bracket-7-tp"))
	assert.NotEqual(t, hashed, toCloid("bracket-7-sl"))
	assert.Empty(t, toCloid("  "))
}
