package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	mathhex "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

const verifyingContractHex = "0x0000000000000000000000000000000000000000"

// Signer produces signatures over 32-byte digests.
type Signer interface {
	Sign(digest []byte) (*Signature, error)
	Address() string
}

// KeySigner signs with a local secp256k1 private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewKeySigner parses a hex private key, with or without the 0x prefix.
func NewKeySigner(privateKeyHex string) (*KeySigner, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, errors.New("hyperliquid: empty private key")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: decode private key: %w", err)
	}
	return &KeySigner{
		key:     key,
		address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}, nil
}

// Sign returns the r/s/v form the exchange endpoint expects.
func (s *KeySigner) Sign(digest []byte) (*Signature, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("hyperliquid: signer not initialised")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("hyperliquid: expected 32-byte digest, got %d bytes", len(digest))
	}
	raw, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: sign digest: %w", err)
	}
	return &Signature{
		R: "0x" + hex.EncodeToString(raw[:32]),
		S: "0x" + hex.EncodeToString(raw[32:64]),
		V: int(raw[64]) + 27,
	}, nil
}

// Address is the lowercase wallet address of the key.
func (s *KeySigner) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

func signAction(action Action, signer Signer, nonce int64, vault string, mainnet bool) (*ExchangeRequest, error) {
	if signer == nil {
		return nil, errors.New("hyperliquid: signer required")
	}
	digest, err := actionDigest(action, nonce, vault, mainnet)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}
	return &ExchangeRequest{
		Action:       action,
		Nonce:        nonce,
		Signature:    *sig,
		VaultAddress: vault,
	}, nil
}

// actionHash is keccak(msgpack(action) || nonce || vault flag [|| vault]).
func actionHash(action Action, nonce int64, vault string) ([]byte, error) {
	if nonce <= 0 {
		return nil, errors.New("hyperliquid: nonce must be positive")
	}
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: msgpack encode action: %w", err)
	}
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))

	payload := make([]byte, 0, len(packed)+8+1+common.AddressLength)
	payload = append(payload, packed...)
	payload = append(payload, nonceBytes[:]...)
	if vault == "" {
		payload = append(payload, 0x00)
	} else {
		if !common.IsHexAddress(vault) {
			return nil, fmt.Errorf("hyperliquid: invalid vault address %q", vault)
		}
		payload = append(payload, 0x01)
		payload = append(payload, common.HexToAddress(vault).Bytes()...)
	}
	return crypto.Keccak256(payload), nil
}

// actionDigest wraps the action hash in the phantom-agent EIP-712 envelope.
func actionDigest(action Action, nonce int64, vault string, mainnet bool) ([]byte, error) {
	connectionID, err := actionHash(action, nonce, vault)
	if err != nil {
		return nil, err
	}
	source := "a"
	if !mainnet {
		source = "b"
	}
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           mathhex.NewHexOrDecimal256(1337),
			VerifyingContract: verifyingContractHex,
		},
		Message: map[string]interface{}{
			"source":       source,
			"connectionId": connectionID,
		},
	}
	return typedDataHash(typed)
}

func typedDataHash(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: hash primary type: %w", err)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// toCloid maps a caller client ID onto the 128-bit hex form the venue
// accepts. UUIDs and 0x-prefixed 16-byte values pass through; anything else
// is hashed.
func toCloid(clientID string) string {
	id := strings.TrimSpace(clientID)
	if id == "" {
		return ""
	}
	plain := strings.ToLower(strings.TrimPrefix(strings.ReplaceAll(id, "-", ""), "0x"))
	if len(plain) == 32 {
		if _, err := hex.DecodeString(plain); err == nil {
			return "0x" + plain
		}
	}
	return "0x" + hex.EncodeToString(crypto.Keccak256([]byte(id))[:16])
}
