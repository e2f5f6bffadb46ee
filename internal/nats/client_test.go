package nats

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTLS(t *testing.T) {
	tc, err := loadTLS(Config{})
	if err != nil || tc != nil {
		t.Fatalf("no material = %v, %v", tc, err)
	}

	if _, err := loadTLS(Config{CertFile: "client.pem"}); err == nil {
		t.Fatal("certificate without key accepted")
	}

	if _, err := loadTLS(Config{CAFile: filepath.Join(t.TempDir(), "missing.pem")}); err == nil {
		t.Fatal("missing CA accepted")
	}

	junk := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(junk, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadTLS(Config{CAFile: junk}); err == nil {
		t.Fatal("CA without certificates accepted")
	}
}
