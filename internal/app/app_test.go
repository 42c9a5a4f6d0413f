package app

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/hamzasheedi/secure-hub/internal/config"
	"github.com/hamzasheedi/secure-hub/internal/storage"
	"github.com/hamzasheedi/secure-hub/internal/vault"
)

func testConfig(t *testing.T, backend string, extra ...string) config.Config {
	t.Helper()
	dir := t.TempDir()
	env := map[string]string{
		"VAULT_SCRATCH_DIR":      filepath.Join(dir, "scratch"),
		"VAULT_SQLITE_PATH":      filepath.Join(dir, "db", "vault.db"),
		"VAULT_METADATA_BACKEND": backend,
		"VAULT_KDF_ITERATIONS":   "100000",
		"VAULT_CIPHER":           "AES256-GCM",
	}
	for i := 0; i+1 < len(extra); i += 2 {
		env[extra[i]] = extra[i+1]
	}
	c, err := config.FromEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return c
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOpenSQLiteBackendPersists(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.MetadataSQLite)

	a, err := Open(ctx, cfg, quiet())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec, err := a.Vault.Encrypt(ctx, "u1", "hello.txt", []byte("hello1234"), []byte("Pw1!aaaa"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := Open(ctx, cfg, quiet())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close(ctx)
	pt, err := b.Vault.Decrypt(ctx, rec.ID, "u1", []byte("Pw1!aaaa"))
	if err != nil || string(pt) != "hello1234" {
		t.Fatalf("decrypt after reopen = %q, %v", pt, err)
	}
	if err := b.Vault.VerifyAudit(ctx); err != nil {
		t.Fatalf("audit chain across restarts: %v", err)
	}
}

func TestOpenMemoryBackend(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t, config.MetadataMemory), quiet())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close(ctx)
	if _, err := a.Vault.Decrypt(ctx, "missing", "u1", []byte("pw")); !errors.Is(err, vault.ErrNotFoundOrForbidden) {
		t.Fatalf("err = %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

const unreachableMongo = "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200"

func TestOpenKeepsDurableBackendWhenMongoIsDown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.MetadataMemory,
		"VAULT_DURABLE_ENABLED", "true",
		"VAULT_MONGO_URI", unreachableMongo,
		"VAULT_DURABLE_TIMEOUT", "300ms",
	)
	a, err := Open(ctx, cfg, quiet())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close(ctx)

	if a.mongo == nil || a.durable == nil {
		t.Fatal("durable backend dropped after failed startup ping")
	}
	if a.durable.Location() != storage.Durable {
		t.Fatalf("durable location = %s", a.durable.Location())
	}

	rec, err := a.Vault.Encrypt(ctx, "u1", "f.txt", []byte("data"), []byte("pw"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if rec.StorageLocation != storage.Ephemeral {
		t.Fatalf("location = %s, want fallback to ephemeral", rec.StorageLocation)
	}
	pt, err := a.Vault.Decrypt(ctx, rec.ID, "u1", []byte("pw"))
	if err != nil || string(pt) != "data" {
		t.Fatalf("decrypt = %q, %v", pt, err)
	}
}

func TestOpenFailsWhenMongoMetadataIsDown(t *testing.T) {
	cfg := testConfig(t, config.MetadataMongo,
		"VAULT_MONGO_URI", unreachableMongo,
		"VAULT_DURABLE_TIMEOUT", "300ms",
	)
	if _, err := Open(context.Background(), cfg, quiet()); !errors.Is(err, storage.ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t, config.MetadataMemory)
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"
	l := NewLogger(cfg)
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("formatter = %T", l.Formatter)
	}
}
