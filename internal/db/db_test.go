package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/postavshik/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "absolute path",
			path: "/home/alice/.postavshik/state.db",
			want: "file:/home/alice/.postavshik/state.db?_busy_timeout=5000&_foreign_keys=on",
		},
		{
			name: "relative path",
			path: "state.db",
			want: "file:state.db?_busy_timeout=5000&_foreign_keys=on",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.path)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAllModels_IncludesCredential(t *testing.T) {
	found := false
	for _, m := range AllModels() {
		if _, ok := m.(*models.Credential); ok {
			found = true
		}
	}
	if !found {
		t.Error("AllModels() missing *models.Credential")
	}
}

func TestConnectAndMigrate_CreatesDirectoryAndTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	gormDB, err := ConnectAndMigrate(path)
	if err != nil {
		t.Fatalf("ConnectAndMigrate: %v", err)
	}
	defer Close(gormDB)

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("state directory not created: %v", err)
	}
	if !gormDB.Migrator().HasTable(&models.Credential{}) {
		t.Error("credentials table not created")
	}
}

func TestConnect_BadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Connect(filepath.Join(blocker, "state.db"))
	if err == nil {
		t.Fatal("expected error when parent is a regular file")
	}
	if !strings.Contains(err.Error(), "db:") {
		t.Errorf("error = %q, want db: prefix", err.Error())
	}
}
