package secrets_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/overhearops/overhearops/internal/secrets"
)

func TestNewVaultLoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestReloadKeepsOldValuesOnError(t *testing.T) {
	calls := 0
	v, err := secrets.NewVault(func() (map[string]string, error) {
		calls++
		switch calls {
		case 1:
			return map[string]string{secrets.MCPAPIKey: "v1"}, nil
		case 2:
			return map[string]string{secrets.MCPAPIKey: "v2"}, nil
		default:
			return nil, errors.New("unavailable")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	get := v.Getter(secrets.MCPAPIKey)
	if get() != "v1" {
		t.Fatalf("initial = %q", get())
	}
	if err := v.Reload(); err != nil {
		t.Fatal(err)
	}
	if get() != "v2" {
		t.Errorf("after reload = %q", get())
	}
	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if get() != "v2" {
		t.Errorf("failed reload clobbered value: %q", get())
	}
	if v.Get("MISSING") != "" {
		t.Error("missing key should be empty")
	}
}

func TestConcurrentGetAndReload(t *testing.T) {
	v, err := secrets.NewVault(secrets.EnvLoader("OVERHEAROPS_TEST_NOPE"))
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() { defer wg.Done(); _ = v.Get(secrets.DatabaseURL) }()
		go func() { defer wg.Done(); _ = v.Reload() }()
	}
	wg.Wait()
}

func TestEnvLoader(t *testing.T) {
	t.Setenv(secrets.DatabaseURL, "postgres://x")
	vals, err := secrets.EnvLoader(secrets.DatabaseURL, "OVERHEAROPS_TEST_UNSET")()
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 1 || vals[secrets.DatabaseURL] != "postgres://x" {
		t.Errorf("vals = %v", vals)
	}
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.env")
	content := "# rotated nightly\nOVERHEAROPS_MCP_API_KEY = \"abc\"\n\nDATABASE_URL=postgres://db/x?sslmode=disable\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	vals, err := secrets.FileLoader(path)()
	if err != nil {
		t.Fatal(err)
	}
	if vals[secrets.MCPAPIKey] != "abc" || vals[secrets.DatabaseURL] != "postgres://db/x?sslmode=disable" {
		t.Errorf("vals = %v", vals)
	}

	missing, err := secrets.FileLoader(filepath.Join(dir, "nope"))()
	if err != nil || len(missing) != 0 {
		t.Errorf("missing file = %v, %v", missing, err)
	}

	bad := filepath.Join(dir, "bad.env")
	if err := os.WriteFile(bad, []byte("novalue\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := secrets.FileLoader(bad)(); err == nil {
		t.Error("expected parse error")
	}
}

func TestMergeLaterWins(t *testing.T) {
	a := func() (map[string]string, error) { return map[string]string{"K": "a", "A": "1"}, nil }
	b := func() (map[string]string, error) { return map[string]string{"K": "b"}, nil }
	vals, err := secrets.Merge(a, b)()
	if err != nil {
		t.Fatal(err)
	}
	if vals["K"] != "b" || vals["A"] != "1" {
		t.Errorf("vals = %v", vals)
	}

	failing := func() (map[string]string, error) { return nil, errors.New("boom") }
	if _, err := secrets.Merge(a, failing)(); err == nil {
		t.Error("expected error")
	}
}
