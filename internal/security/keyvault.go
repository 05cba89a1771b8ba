// internal/security/keyvault.go
package security

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"sync"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecretSource resolves the keystore passphrase
type SecretSource interface {
	GetSecret(ctx context.Context, path string) (string, error)
}

// KeyVault holds the custodial key as a V3 keystore blob and hands out the
// decrypted key only for the duration of a callback.
type KeyVault struct {
	keystoreJSON   []byte
	address        common.Address
	passphrasePath string
	secrets        SecretSource
	mu             sync.Mutex
	logger         *zap.Logger
}

func NewKeyVault(keystoreJSON []byte, address, passphrasePath string, secrets SecretSource, logger *zap.Logger) *KeyVault {
	return &KeyVault{
		keystoreJSON:   keystoreJSON,
		address:        common.HexToAddress(address),
		passphrasePath: passphrasePath,
		secrets:        secrets,
		logger:         logger,
	}
}

func LoadKeyVault(keystorePath, address, passphrasePath string, secrets SecretSource, logger *zap.Logger) (*KeyVault, error) {
	blob, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	return NewKeyVault(blob, address, passphrasePath, secrets, logger), nil
}

func (k *KeyVault) Address() string {
	return k.address.Hex()
}

// Decrypt returns the raw private key. The caller must wipe it after signing.
func (k *KeyVault) Decrypt(passphrase string) ([]byte, error) {
	key, err := keystore.DecryptKey(k.keystoreJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyDecryption, err)
	}
	defer zeroKey(key.PrivateKey)

	if key.Address != k.address {
		return nil, fmt.Errorf("%w: keystore holds %s, expected %s", domain.ErrKeyDecryption, key.Address.Hex(), k.address.Hex())
	}
	return crypto.FromECDSA(key.PrivateKey), nil
}

// WithKey decrypts the custodial key, passes it to fn and wipes it on return.
// Calls are serialized.
func (k *KeyVault) WithKey(ctx context.Context, fn func(key []byte) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	passphrase, err := k.secrets.GetSecret(ctx, k.passphrasePath)
	if err != nil {
		return fmt.Errorf("%w: passphrase unavailable: %v", domain.ErrKeyDecryption, err)
	}

	raw, err := k.Decrypt(passphrase)
	if err != nil {
		return err
	}
	defer wipe(raw)

	return fn(raw)
}

// Verify decrypts once to prove the passphrase and address are right
func (k *KeyVault) Verify(ctx context.Context) error {
	if err := k.WithKey(ctx, func([]byte) error { return nil }); err != nil {
		return err
	}
	k.logger.Info("custodial key verified", zap.String("address", k.address.Hex()))
	return nil
}

// EncryptKeystore seals key as a V3 keystore. light selects cheap scrypt
// parameters and is meant for tests.
func EncryptKeystore(key *ecdsa.PrivateKey, passphrase string, light bool) ([]byte, error) {
	scryptN, scryptP := keystore.StandardScryptN, keystore.StandardScryptP
	if light {
		scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key id: %w", err)
	}
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}, passphrase, scryptN, scryptP)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt keystore: %w", err)
	}
	return blob, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func zeroKey(k *ecdsa.PrivateKey) {
	if k == nil || k.D == nil {
		return
	}
	b := k.D.Bits()
	for i := range b {
		b[i] = 0
	}
}
