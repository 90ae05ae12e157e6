// ABOUTME: End-to-end encryption for the rollcall Matrix bridge
// ABOUTME: mautrix cryptohelper backed by a per-bot SQLite store, reset on device change

package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager owns the bridge's E2EE state.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto enables E2EE on client. The crypto store lives in dataDir,
// one database per bot account. A recovery key, when given, is used for
// cross-signing; failure there is logged and encryption stays on.
func SetupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := filepath.Join(dataDir, fmt.Sprintf("matrix-crypto-%s.db", slugify(userID)))
	logger.Info("setting up encryption", "db", dbPath)

	if reset, err := resetOnDeviceChange(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check stored device ID", "error", err)
	} else if reset {
		logger.Warn("device ID changed, crypto store reset")
	}

	helper, err := cryptohelper.NewCryptoHelper(client, deriveStoreKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = helper

	cm := &CryptoManager{helper: helper, logger: logger}

	if recoveryKey == "" {
		logger.Info("encryption initialized without cross-signing")
		return cm, nil
	}
	if machine := helper.Machine(); machine == nil {
		logger.Warn("crypto machine not initialized, skipping recovery key")
	} else if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("recovery key verification failed, encryption enabled without cross-signing", "error", err)
	} else {
		logger.Info("encryption initialized with cross-signing verification")
	}
	return cm, nil
}

// Close releases the crypto store.
func (cm *CryptoManager) Close() error {
	if cm.helper != nil {
		return cm.helper.Close()
	}
	return nil
}

// resetOnDeviceChange removes the crypto store when it belongs to another
// device. A new access token means a new device, and the old keys would make
// Init fail.
func resetOnDeviceChange(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	stored, err := storedDeviceID(dbPath)
	if err != nil || stored == "" || stored == deviceID {
		return false, err
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("removing old crypto database: %w", err)
		}
	}
	return true, nil
}

func storedDeviceID(dbPath string) (string, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var deviceID string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return deviceID, err
}

// slugify converts a Matrix user ID to a filesystem-safe string.
// Example: @rollcall:school.edu -> rollcall_school.edu
func slugify(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteRune(c)
		case c == ':':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// deriveStoreKey derives the crypto store pickle key from the bot's user ID.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("rollcall-matrix-crypto:" + userID))
	return h[:]
}
