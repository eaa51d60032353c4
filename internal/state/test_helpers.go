package state

import (
	"path/filepath"
	"testing"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	return openTestManager(t, filepath.Join(t.TempDir(), "db", "spot-gazer.db"))
}

func openTestManager(t *testing.T, dbPath string) *Manager {
	t.Helper()

	log, _ := logger.New(logger.LogConfig{Level: "info", Format: "text"})

	mgr, err := NewManager(dbPath, log)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return mgr
}
