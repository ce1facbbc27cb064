package signer

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func clearKeyEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath, EnvKeystorePassword, EnvKeystorePasswordFile} {
		t.Setenv(key, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestNewLocalSignerFromEnvHex(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv(EnvPrivateKey, testPrivateKey)
	s, err := NewLocalSignerFromInputs("env", "")
	if err != nil {
		t.Fatalf("NewLocalSignerFromInputs failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
	to := common.HexToAddress("0x0000000000000000000000000000000000000001")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(146),
		To:        &to,
		Value:     big.NewInt(0),
		Gas:       21_000,
		GasFeeCap: big.NewInt(2),
		GasTipCap: big.NewInt(1),
	})
	signed, err := s.SignTx(big.NewInt(146), tx)
	if err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(146)), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != s.Address() {
		t.Fatalf("recovered sender %s does not match signer %s", sender.Hex(), s.Address().Hex())
	}
}

func TestNewLocalSignerFromFileSource(t *testing.T) {
	clearKeyEnv(t)
	keyFile := filepath.Join(t.TempDir(), "key.txt")
	if err := os.WriteFile(keyFile, []byte("0x"+testPrivateKey+"\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv(EnvPrivateKeyFile, keyFile)
	t.Setenv(EnvPrivateKey, "not-used")

	if _, err := NewLocalSignerFromInputs("file", ""); err != nil {
		t.Fatalf("expected file source to ignore env key: %v", err)
	}
}

func TestAutoSourceUsesDefaultKeyFile(t *testing.T) {
	clearKeyEnv(t)
	cfgDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfgDir)
	keyDir := filepath.Join(cfgDir, "adapters")
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(keyDir, "key.hex"), []byte(testPrivateKey), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	if _, err := NewLocalSignerFromInputs("", ""); err != nil {
		t.Fatalf("expected auto source to use default key path: %v", err)
	}
}

func TestPrivateKeyOverrideWinsOverSource(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv(EnvPrivateKeyFile, "/tmp/does-not-exist")
	if _, err := NewLocalSignerFromInputs("file", testPrivateKey); err != nil {
		t.Fatalf("expected override to win: %v", err)
	}
}

func TestParseSourceRejectsUnknown(t *testing.T) {
	if _, err := ParseSource("ledger"); err == nil {
		t.Fatal("expected unsupported key source error")
	}
}

func TestMissingKeyErrorIncludesHints(t *testing.T) {
	clearKeyEnv(t)
	_, err := NewLocalSignerFromInputs("auto", "")
	if err == nil {
		t.Fatal("expected missing key error")
	}
	if !strings.Contains(err.Error(), defaultPrivateKeyHintPath) || !strings.Contains(err.Error(), "--private-key") {
		t.Fatalf("expected hints in missing key error, got: %s", err)
	}
}

func TestKeystoreRequiresPassword(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv(EnvKeystorePath, filepath.Join(t.TempDir(), "keystore.json"))
	if _, err := NewLocalSignerFromInputs("keystore", ""); err == nil || !strings.Contains(err.Error(), "password") {
		t.Fatalf("expected keystore password error, got %v", err)
	}
}
