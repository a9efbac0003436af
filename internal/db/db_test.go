package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/Gokhulnath/Manus/internal/config"
	"github.com/Gokhulnath/Manus/internal/models"
)

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MySQLConfig
		want string
	}{
		{
			name: "local",
			cfg:  config.MySQLConfig{Host: "127.0.0.1", Port: 3306, User: "root", Database: "manus"},
			want: "root@tcp(127.0.0.1:3306)/manus?parseTime=true",
		},
		{
			name: "with password",
			cfg:  config.MySQLConfig{Host: "db.internal", Port: 3307, User: "manus", Password: "s3cret", Database: "chats"},
			want: "manus:s3cret@tcp(db.internal:3307)/chats?parseTime=true",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MySQLDSN(tt.cfg); got != tt.want {
				t.Errorf("MySQLDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMySQLDSN_IPv6(t *testing.T) {
	dsn := MySQLDSN(config.MySQLConfig{Host: "::1", Port: 3306, User: "root", Database: "manus"})
	if !strings.Contains(dsn, "tcp([::1]:3306)") {
		t.Errorf("DSN = %q, want bracketed IPv6 host", dsn)
	}
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect(config.ServerConfig{Driver: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("err = %v", err)
	}
}

func TestConnect_MySQLError(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server; expect connection error.
	_, err := Connect(config.ServerConfig{
		Driver: DriverMySQL,
		MySQL:  config.MySQLConfig{Host: "127.0.0.1", Port: 1, User: "root", Database: "nonexistent"},
	})
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: connect to")
	}
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 2 {
		t.Errorf("AllModels() returned %d models, want 2", n)
	}
}

func TestAutoMigrate_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manus.db")
	gdb, err := Connect(config.ServerConfig{Driver: DriverSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}

	chat := models.Chat{ID: "c1", Title: models.DefaultChatTitle}
	if err := gdb.Create(&chat).Error; err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msg := models.Message{ID: "m1", ChatID: "c1", Content: "hi", Role: models.RoleUser}
	if err := gdb.Create(&msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}
	var got models.Message
	if err := gdb.First(&got, "id = ?", "m1").Error; err != nil {
		t.Fatal(err)
	}
	if got.Task != models.TaskChat || got.Status != models.StatusPending {
		t.Errorf("defaults = %q/%q, want chat/pending", got.Task, got.Status)
	}
}

func TestOpenSQLite_MemorySharedAcrossQueries(t *testing.T) {
	gdb, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if !gdb.Migrator().HasTable(&models.Chat{}) {
			t.Fatal("in-memory table vanished between queries")
		}
	}
}
