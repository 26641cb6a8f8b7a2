package testsupport

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"tradecomply/internal/config"
	"tradecomply/internal/database"
)

// MustOpenDB opens a migrated SQLite database in a per-test temp dir and registers cleanup.
func MustOpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.InitDatabase(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}
