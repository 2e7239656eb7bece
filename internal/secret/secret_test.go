// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package secret

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvResolver(t *testing.T) {
	t.Setenv("ORCH_TEST_KEY", "sk-from-env")
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("sk-from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"env reference", "env:ORCH_TEST_KEY", "sk-from-env", false},
		{"missing env", "env:ORCH_TEST_MISSING", "", true},
		{"file reference", "file:" + keyFile, "sk-from-file", false},
		{"missing file", "file:" + filepath.Join(dir, "nope"), "", true},
		{"literal", "sk-literal", "sk-literal", false},
		{"empty", "  ", "", true},
	}

	var r EnvResolver
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrCredentialMissing) {
				t.Errorf("expected ErrCredentialMissing, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"ref": "value"}
	if v, err := r.Resolve("ref"); err != nil || v != "value" {
		t.Fatalf("unexpected result %q %v", v, err)
	}
	if _, err := r.Resolve("other"); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
}
