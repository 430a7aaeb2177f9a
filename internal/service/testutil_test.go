package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shinyes/vidbox/internal/db"
	"github.com/shinyes/vidbox/internal/markdown"
	"github.com/shinyes/vidbox/internal/models"
	"github.com/shinyes/vidbox/internal/storage"
	"github.com/shinyes/vidbox/internal/store"
)

const testUploadLimit = 1 << 20

type testServices struct {
	store        *store.SQLStore
	storage      *storage.LocalStore
	videoService *VideoService
}

func setupTestServices(t *testing.T) testServices {
	t.Helper()
	dir := t.TempDir()
	sqliteDB, err := db.OpenSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() {
		_ = sqliteDB.Close()
	})
	if err := db.Migrate(sqliteDB); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	localStore, err := storage.NewLocalStore(filepath.Join(dir, "videos"))
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	sqlStore := store.New(sqliteDB)
	return testServices{
		store:        sqlStore,
		storage:      localStore,
		videoService: NewVideoService(sqlStore, localStore, markdown.NewService(), testUploadLimit),
	}
}

func mustCreateUser(t *testing.T, s *store.SQLStore, username string) models.User {
	t.Helper()
	user, err := s.InsertUser(context.Background(), store.NewAccount{Username: username, DisplayName: username, Role: RoleUser})
	if err != nil {
		t.Fatalf("InsertUser() error = %v", err)
	}
	return user
}
