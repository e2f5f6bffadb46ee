package main

import (
	"testing"

	"github.com/spf13/viper"
)

func TestCurrentIdentity(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("user", "user-42")
	id, err := currentIdentity()
	if err != nil || id.UserID != "user-42" || id.Guest {
		t.Fatalf("flag identity = %+v, %v", id, err)
	}

	viper.Set("user", "")
	viper.Set("config-dir", t.TempDir())
	first, err := currentIdentity()
	if err != nil {
		t.Fatalf("guest: %v", err)
	}
	second, err := currentIdentity()
	if err != nil {
		t.Fatalf("guest reload: %v", err)
	}
	if !first.Guest || first.UserID != second.UserID {
		t.Fatalf("guest ids = %q, %q", first.UserID, second.UserID)
	}
}
