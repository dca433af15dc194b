package models

import "testing"

func TestBackend_Valid(t *testing.T) {
	tests := []struct {
		name    string
		backend Backend
		want    bool
	}{
		{"local is valid", BackendLocal, true},
		{"docker is valid", BackendDocker, true},
		{"singularity is valid", BackendSingularity, true},
		{"empty string is invalid", Backend(""), false},
		{"uppercase is invalid", Backend("DOCKER"), false},
		{"unknown is invalid", Backend("podman"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.backend.Valid(); got != tt.want {
				t.Errorf("Backend(%q).Valid() = %v, want %v", tt.backend, got, tt.want)
			}
		})
	}
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("singularity")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b != BackendSingularity {
		t.Errorf("expected singularity, got %q", b)
	}

	b, err = ParseBackend("")
	if err != nil || b != "" {
		t.Errorf("expected empty backend for auto-detect, got %q, %v", b, err)
	}

	if _, err := ParseBackend("kubernetes"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestBackend_IsContainer(t *testing.T) {
	if BackendLocal.IsContainer() {
		t.Error("local should not be a container backend")
	}
	if !BackendDocker.IsContainer() || !BackendSingularity.IsContainer() {
		t.Error("docker and singularity should be container backends")
	}
}
