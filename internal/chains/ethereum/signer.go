// internal/chains/ethereum/signer.go
package ethereum

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignedTx is a signed transfer ready for broadcast
type SignedTx struct {
	Raw      []byte
	Hash     string
	Nonce    uint64
	GasPrice *big.Int
}

// BuildTransfer creates an unsigned legacy native-value transfer
func BuildTransfer(nonce uint64, to string, value *big.Int, gasLimit uint64, gasPrice *big.Int) *types.Transaction {
	return types.NewTransaction(
		nonce,
		common.HexToAddress(to),
		value,
		gasLimit,
		gasPrice,
		nil, // no data for native transfer
	)
}

// SignTransfer signs tx with EIP-155 replay protection. The caller owns key
// and is expected to wipe it afterwards.
func SignTransfer(tx *types.Transaction, key []byte, chainID *big.Int) (*SignedTx, error) {
	privateKey, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	defer zeroKey(privateKey)

	signer := types.NewEIP155Signer(chainID)
	signedTx, err := types.SignTx(tx, signer, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	return &SignedTx{
		Raw:      raw,
		Hash:     signedTx.Hash().Hex(),
		Nonce:    signedTx.Nonce(),
		GasPrice: signedTx.GasPrice(),
	}, nil
}

// RecoverSender returns the address that signed raw
func RecoverSender(raw []byte, chainID *big.Int) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}
	sender, err := types.Sender(types.NewEIP155Signer(chainID), tx)
	if err != nil {
		return "", fmt.Errorf("failed to recover sender: %w", err)
	}
	return sender.Hex(), nil
}

// PrivateKeyToAddress derives the checksummed address of a raw key
func PrivateKeyToAddress(key []byte) (string, error) {
	privateKey, err := crypto.ToECDSA(key)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	defer zeroKey(privateKey)

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("failed to cast public key")
	}
	return crypto.PubkeyToAddress(*publicKeyECDSA).Hex(), nil
}

// ValidateAddress validates a hex address and, for mixed-case input, its checksum
func ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address format")
	}
	hexPart := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if hexPart == strings.ToLower(hexPart) || hexPart == strings.ToUpper(hexPart) {
		return nil
	}
	if common.HexToAddress(address).Hex() != address {
		return fmt.Errorf("invalid address checksum")
	}
	return nil
}

// SameAddress compares two hex addresses case-insensitively
func SameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}

func zeroKey(k *ecdsa.PrivateKey) {
	b := k.D.Bits()
	for i := range b {
		b[i] = 0
	}
}
