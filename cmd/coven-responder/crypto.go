// ABOUTME: End-to-end encryption setup for coven-responder
// ABOUTME: Per-user mautrix crypto store with device ID mismatch recovery

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

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager owns the crypto helper attached to the Matrix client.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto enables E2EE on client and verifies the device with the
// recovery key. A failed verification leaves encryption working without
// cross-signing.
func SetupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := cryptoDBPath(dataDir, userID)
	logger = logger.With("component", "crypto")
	logger.Info("setting up encryption", "db", dbPath)

	helper, err := initCryptoHelper(ctx, client, deriveStoreKey(userID), dbPath, logger)
	if err != nil {
		return nil, err
	}
	client.Crypto = helper

	cm := &CryptoManager{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption initialized (no recovery key, cross-signing disabled)")
		return cm, nil
	}

	machine := helper.Machine()
	if machine == nil {
		logger.Warn("crypto machine not initialized, skipping verification")
		return cm, nil
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("failed to verify with recovery key", "error", err)
	} else {
		logger.Info("device verified with recovery key")
	}
	return cm, nil
}

// Close releases the crypto store.
func (cm *CryptoManager) Close() error {
	if cm == nil || cm.helper == nil {
		return nil
	}
	return cm.helper.Close()
}

func cryptoDBPath(dataDir, userID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("crypto-%s.db", slugify(userID)))
}

// slugify converts a Matrix user ID to a filesystem-safe string.
// Example: @responder:matrix.org -> responder_matrix.org
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_':
			result = append(result, c)
		case c == ':':
			result = append(result, '_')
		}
	}
	return string(result)
}

// deriveStoreKey derives the per-user pickle key for the crypto store.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("coven-responder-crypto:" + userID))
	return h[:]
}

// initCryptoHelper creates the helper, first discarding a store that belongs
// to a different device (every password login gets a new device ID).
func initCryptoHelper(ctx context.Context, client *mautrix.Client, storeKey []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	if mismatch, err := checkDeviceIDMismatch(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check device ID", "error", err)
	} else if mismatch {
		logger.Warn("device ID mismatch detected, resetting crypto database")
		if err := removeDB(dbPath); err != nil {
			return nil, err
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

func removeDB(dbPath string) error {
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing old crypto database: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}

// checkDeviceIDMismatch reports whether an existing crypto database was
// created for a different device.
func checkDeviceIDMismatch(dbPath, currentDeviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var storedDeviceID string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&storedDeviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return storedDeviceID != currentDeviceID, nil
}
