package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateDomainPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"valid domain", "example.com", false},
		{"valid subdomain", "api.example.com", false},
		{"valid wildcard", "*.example.com", false},
		{"valid wildcard subdomain", "*.api.example.com", false},
		{"localhost", "localhost", false},
		{"literal wildcard allows all", "*", false},
		{"valid domain with port", "example.com:443", false},
		{"valid wildcard with port", "*.example.com:8443", false},

		{"protocol included", "https://example.com", true},
		{"path included", "example.com/path", true},
		{"port out of range", "example.com:70000", true},
		{"wildcard too broad", "*.com", true},
		{"invalid wildcard position", "example.*.com", true},
		{"trailing wildcard", "example.com.*", true},
		{"leading dot", ".example.com", true},
		{"trailing dot", "example.com.", true},
		{"no TLD", "example", true},
		{"empty wildcard domain part", "*.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDomainPattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateDomainPattern(%q) error = %v, wantErr %v", tt.pattern, err, tt.wantErr)
			}
		})
	}
}

func TestFileValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    File
		wantErr bool
	}{
		{
			name:    "valid empty config",
			file:    File{},
			wantErr: false,
		},
		{
			name: "valid config with domains",
			file: File{
				Network: Network{
					AllowedDomains: []string{"example.com", "*.github.com"},
					DeniedDomains:  []string{"blocked.com"},
				},
			},
			wantErr: false,
		},
		{
			name: "invalid allowed domain",
			file: File{
				Network: Network{
					AllowedDomains: []string{"https://example.com"},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid denied domain",
			file: File{
				Network: Network{
					DeniedDomains: []string{"*.com"},
				},
			},
			wantErr: true,
		},
		{
			name: "empty denyRead path",
			file: File{
				Filesystem: Filesystem{
					DenyRead: []string{""},
				},
			},
			wantErr: true,
		},
		{
			name: "empty allowRead path",
			file: File{
				Filesystem: Filesystem{
					AllowRead: []string{""},
				},
			},
			wantErr: true,
		},
		{
			name: "empty allowWrite path",
			file: File{
				Filesystem: Filesystem{
					AllowWrite: []string{""},
				},
			},
			wantErr: true,
		},
		{
			name: "empty denyWrite path",
			file: File{
				Filesystem: Filesystem{
					DenyWrite: []string{""},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.file.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("File.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	f := Default()
	if f == nil {
		t.Fatal("Default() returned nil")
	}
	if f.Network.AllowedDomains == nil {
		t.Error("AllowedDomains should not be nil")
	}
	if f.Network.DeniedDomains == nil {
		t.Error("DeniedDomains should not be nil")
	}
	if f.Filesystem.DenyRead == nil {
		t.Error("DenyRead should not be nil")
	}
	if f.Filesystem.AllowWrite == nil {
		t.Error("AllowWrite should not be nil")
	}
	if f.Filesystem.DenyWrite == nil {
		t.Error("DenyWrite should not be nil")
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name      string
		setup     func(string) string
		wantNil   bool
		wantErr   bool
		checkFile func(*testing.T, *File)
	}{
		{
			name:    "nonexistent file",
			setup:   func(dir string) string { return filepath.Join(dir, "nonexistent.json") },
			wantNil: true,
			wantErr: false,
		},
		{
			name: "empty file",
			setup: func(dir string) string {
				path := filepath.Join(dir, "empty.json")
				_ = os.WriteFile(path, []byte(""), 0o600)
				return path
			},
			wantNil: true,
			wantErr: false,
		},
		{
			name: "whitespace only file",
			setup: func(dir string) string {
				path := filepath.Join(dir, "whitespace.json")
				_ = os.WriteFile(path, []byte("   \n\t  "), 0o600)
				return path
			},
			wantNil: true,
			wantErr: false,
		},
		{
			name: "valid config",
			setup: func(dir string) string {
				path := filepath.Join(dir, "valid.json")
				content := `{"network":{"allowedDomains":["example.com"]}}`
				_ = os.WriteFile(path, []byte(content), 0o600)
				return path
			},
			wantNil: false,
			wantErr: false,
			checkFile: func(t *testing.T, f *File) {
				if len(f.Network.AllowedDomains) != 1 {
					t.Errorf("expected 1 allowed domain, got %d", len(f.Network.AllowedDomains))
				}
				if f.Network.AllowedDomains[0] != "example.com" {
					t.Errorf("expected example.com, got %s", f.Network.AllowedDomains[0])
				}
			},
		},
		{
			name: "jsonc comments are stripped",
			setup: func(dir string) string {
				path := filepath.Join(dir, "jsonc.json")
				content := "{\n  // allow github\n  \"network\":{\"allowedDomains\":[\"github.com\"]}\n}"
				_ = os.WriteFile(path, []byte(content), 0o600)
				return path
			},
			wantNil: false,
			wantErr: false,
			checkFile: func(t *testing.T, f *File) {
				if len(f.Network.AllowedDomains) != 1 || f.Network.AllowedDomains[0] != "github.com" {
					t.Errorf("expected [github.com], got %v", f.Network.AllowedDomains)
				}
			},
		},
		{
			name: "invalid JSON",
			setup: func(dir string) string {
				path := filepath.Join(dir, "invalid.json")
				_ = os.WriteFile(path, []byte("{invalid json}"), 0o600)
				return path
			},
			wantNil: false,
			wantErr: true,
		},
		{
			name: "invalid domain in config",
			setup: func(dir string) string {
				path := filepath.Join(dir, "invalid_domain.json")
				content := `{"network":{"allowedDomains":["*.com"]}}`
				_ = os.WriteFile(path, []byte(content), 0o600)
				return path
			},
			wantNil: false,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setup(tmpDir)
			f, err := Load(path)

			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantNil && f != nil {
				t.Error("Load() expected nil config")
				return
			}

			if !tt.wantNil && !tt.wantErr && f == nil {
				t.Error("Load() returned nil config unexpectedly")
				return
			}

			if tt.checkFile != nil && f != nil {
				tt.checkFile(t, f)
			}
		})
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if path == "" {
		t.Error("DefaultConfigPath() returned empty string")
	}
	if filepath.Base(path) != ".sandboxrun.json" {
		t.Errorf("DefaultConfigPath() = %q, expected to end with .sandboxrun.json", path)
	}
}

func TestToPolicyInput(t *testing.T) {
	f := &File{
		Network: Network{
			AllowedDomains: []string{"example.com"},
		},
		Filesystem: Filesystem{
			AllowWrite: []string{"/tmp/work"},
		},
	}

	in := f.ToPolicyInput()
	if len(in.AllowedDomains) != 1 || in.AllowedDomains[0] != "example.com" {
		t.Errorf("AllowedDomains = %v, want [example.com]", in.AllowedDomains)
	}
	if len(in.AllowWrite) != 1 || in.AllowWrite[0] != "/tmp/work" {
		t.Errorf("AllowWrite = %v, want [/tmp/work]", in.AllowWrite)
	}
}

func TestToPolicyInputNilFile(t *testing.T) {
	var f *File
	in := f.ToPolicyInput()
	if in.AllowedDomains != nil || in.AllowWrite != nil {
		t.Errorf("expected zero-value Input for nil File, got %+v", in)
	}
}
