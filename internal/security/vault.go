// internal/security/vault.go
package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrSecretNotFound = errors.New("secret not found")

// VaultProvider defines interface for secret storage backends
type VaultProvider interface {
	GetSecret(ctx context.Context, path string) (string, error)
	SetSecret(ctx context.Context, path, value string) error
	DeleteSecret(ctx context.Context, path string) error
}

// Vault fronts a provider with a short-lived in-memory cache
type Vault struct {
	provider   VaultProvider
	cache      map[string]*cachedSecret
	cacheMutex sync.RWMutex
	cacheTTL   time.Duration
	logger     *zap.Logger
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewVault(provider VaultProvider, cacheTTL time.Duration, logger *zap.Logger) *Vault {
	return &Vault{
		provider: provider,
		cache:    make(map[string]*cachedSecret),
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// GetSecret retrieves a secret with caching
func (v *Vault) GetSecret(ctx context.Context, path string) (string, error) {
	v.cacheMutex.RLock()
	if cached, ok := v.cache[path]; ok && time.Now().Before(cached.expiresAt) {
		v.cacheMutex.RUnlock()
		return cached.value, nil
	}
	v.cacheMutex.RUnlock()

	v.logger.Debug("fetching secret from provider", zap.String("path", path))
	secret, err := v.provider.GetSecret(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to get secret from vault: %w", err)
	}

	if v.cacheTTL > 0 {
		v.cacheMutex.Lock()
		v.cache[path] = &cachedSecret{value: secret, expiresAt: time.Now().Add(v.cacheTTL)}
		v.cacheMutex.Unlock()
	}
	return secret, nil
}

func (v *Vault) SetSecret(ctx context.Context, path, value string) error {
	if err := v.provider.SetSecret(ctx, path, value); err != nil {
		return fmt.Errorf("failed to set secret in vault: %w", err)
	}
	v.invalidate(path)
	v.logger.Info("secret updated in vault", zap.String("path", path))
	return nil
}

func (v *Vault) DeleteSecret(ctx context.Context, path string) error {
	if err := v.provider.DeleteSecret(ctx, path); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	v.invalidate(path)
	v.logger.Info("secret deleted from vault", zap.String("path", path))
	return nil
}

func (v *Vault) ClearCache() {
	v.cacheMutex.Lock()
	v.cache = make(map[string]*cachedSecret)
	v.cacheMutex.Unlock()
}

func (v *Vault) invalidate(path string) {
	v.cacheMutex.Lock()
	delete(v.cache, path)
	v.cacheMutex.Unlock()
}

// ============================================================================
// VAULT PROVIDERS
// ============================================================================

// EnvVaultProvider maps "custody/keystore-passphrase" to CUSTODY_KEYSTORE_PASSPHRASE
type EnvVaultProvider struct{}

func NewEnvVaultProvider() *EnvVaultProvider {
	return &EnvVaultProvider{}
}

func (p *EnvVaultProvider) GetSecret(ctx context.Context, path string) (string, error) {
	envKey := pathToEnvKey(path)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("%w: %s (env: %s)", ErrSecretNotFound, path, envKey)
	}
	return value, nil
}

func (p *EnvVaultProvider) SetSecret(ctx context.Context, path, value string) error {
	return os.Setenv(pathToEnvKey(path), value)
}

func (p *EnvVaultProvider) DeleteSecret(ctx context.Context, path string) error {
	return os.Unsetenv(pathToEnvKey(path))
}

// FileVaultProvider stores each secret as an AES-GCM sealed file
type FileVaultProvider struct {
	baseDir    string
	encryption *Encryption
	mutex      sync.RWMutex
}

func NewFileVaultProvider(baseDir, encryptionKey string) (*FileVaultProvider, error) {
	encryption, err := NewEncryption(encryptionKey)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileVaultProvider{
		baseDir:    baseDir,
		encryption: encryption,
	}, nil
}

func (p *FileVaultProvider) GetSecret(ctx context.Context, path string) (string, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	ciphertext, err := os.ReadFile(p.filePath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	plaintext, err := p.encryption.DecryptBytes(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (p *FileVaultProvider) SetSecret(ctx context.Context, path, value string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ciphertext, err := p.encryption.EncryptBytes([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	filePath := p.filePath(path)
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(filePath, ciphertext, 0600); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	return nil
}

func (p *FileVaultProvider) DeleteSecret(ctx context.Context, path string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := os.Remove(p.filePath(path)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func (p *FileVaultProvider) filePath(path string) string {
	return filepath.Join(p.baseDir, filepath.FromSlash(path)+".enc")
}

func pathToEnvKey(path string) string {
	key := strings.ToUpper(path)
	key = strings.ReplaceAll(key, "/", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}
