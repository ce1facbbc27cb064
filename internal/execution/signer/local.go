package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	EnvPrivateKey           = "ADAPTERS_PRIVATE_KEY"
	EnvPrivateKeyFile       = "ADAPTERS_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "ADAPTERS_KEYSTORE_PATH"
	EnvKeystorePassword     = "ADAPTERS_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "ADAPTERS_KEYSTORE_PASSWORD_FILE"

	defaultPrivateKeyHintPath = "~/.config/adapters/key.hex"
)

// Source selects where the signing key is read from.
type Source string

const (
	SourceAuto     Source = "auto"
	SourceEnv      Source = "env"
	SourceFile     Source = "file"
	SourceKeystore Source = "keystore"
)

func ParseSource(v string) (Source, error) {
	switch s := Source(strings.ToLower(strings.TrimSpace(v))); s {
	case "":
		return SourceAuto, nil
	case SourceAuto, SourceEnv, SourceFile, SourceKeystore:
		return s, nil
	default:
		return "", fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", v, SourceAuto, SourceEnv, SourceFile, SourceKeystore)
	}
}

type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

type KeyConfig struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

// KeyConfigFromEnv reads key material locations from the environment and keeps only
// those the source allows. The default key file is used when nothing else is set.
func KeyConfigFromEnv(source Source) KeyConfig {
	cfg := KeyConfig{
		PrivateKeyHex:        strings.TrimSpace(os.Getenv(EnvPrivateKey)),
		PrivateKeyFile:       strings.TrimSpace(os.Getenv(EnvPrivateKeyFile)),
		KeystorePath:         strings.TrimSpace(os.Getenv(EnvKeystorePath)),
		KeystorePassword:     strings.TrimSpace(os.Getenv(EnvKeystorePassword)),
		KeystorePasswordFile: strings.TrimSpace(os.Getenv(EnvKeystorePasswordFile)),
	}
	if cfg.PrivateKeyFile == "" {
		if path := defaultPrivateKeyPath(); fileExists(path) {
			cfg.PrivateKeyFile = path
		}
	}
	switch source {
	case SourceEnv:
		return KeyConfig{PrivateKeyHex: cfg.PrivateKeyHex}
	case SourceFile:
		return KeyConfig{PrivateKeyFile: cfg.PrivateKeyFile}
	case SourceKeystore:
		cfg.PrivateKeyHex = ""
		cfg.PrivateKeyFile = ""
	}
	return cfg
}

// NewLocalSignerFromInputs loads a signer for source. A non-empty privateKey wins over
// every configured source.
func NewLocalSignerFromInputs(source, privateKey string) (*LocalSigner, error) {
	if strings.TrimSpace(privateKey) != "" {
		return NewLocalSigner(KeyConfig{PrivateKeyHex: privateKey})
	}
	parsed, err := ParseSource(source)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(KeyConfigFromEnv(parsed))
}

func NewLocalSigner(cfg KeyConfig) (*LocalSigner, error) {
	pk, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid ECDSA public key")
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(*pub)}, nil
}

func loadPrivateKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	switch {
	case strings.TrimSpace(cfg.PrivateKeyHex) != "":
		return parseHexKey(cfg.PrivateKeyHex)
	case strings.TrimSpace(cfg.PrivateKeyFile) != "":
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	case strings.TrimSpace(cfg.KeystorePath) != "":
		return loadKeystore(cfg)
	}
	return nil, fmt.Errorf("missing signing key: write it to %s, set %s, or pass --private-key", defaultPrivateKeyHintPath, EnvPrivateKey)
}

func loadKeystore(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	password := cfg.KeystorePassword
	if strings.TrimSpace(password) == "" && strings.TrimSpace(cfg.KeystorePasswordFile) != "" {
		buf, err := os.ReadFile(cfg.KeystorePasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read keystore password file: %w", err)
		}
		password = strings.TrimSpace(string(buf))
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("keystore password is required")
	}
	buf, err := os.ReadFile(cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

func defaultPrivateKeyPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "adapters", "key.hex")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
