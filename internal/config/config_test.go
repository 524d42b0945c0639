package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string // file content, written (even if empty) unless noFile is set
		noFile  bool
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:   "missing file returns defaults",
			noFile: true,
			check: func(t *testing.T, cfg *Config) {
				def := Default()
				if cfg.Discord.PipeIndex != def.Discord.PipeIndex {
					t.Errorf("PipeIndex = %d, want %d", cfg.Discord.PipeIndex, def.Discord.PipeIndex)
				}
				if cfg.Display.Details != def.Display.Details {
					t.Errorf("Details = %q, want %q", cfg.Display.Details, def.Display.Details)
				}
			},
		},
		{
			name: "overrides applied over defaults",
			content: `
[discord]
app_id = "custom-app-id"
pipe_index = 3

[display]
details = "Writing code"
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Discord.AppID != "custom-app-id" {
					t.Errorf("AppID = %q, want custom-app-id", cfg.Discord.AppID)
				}
				if cfg.Discord.PipeIndex != 3 {
					t.Errorf("PipeIndex = %d, want 3", cfg.Discord.PipeIndex)
				}
				if cfg.Display.Details != "Writing code" {
					t.Errorf("Details = %q, want %q", cfg.Display.Details, "Writing code")
				}
				if cfg.Log.Level != "info" {
					t.Errorf("Level = %q, want default %q (untouched)", cfg.Log.Level, "info")
				}
			},
		},
		{
			name:    "malformed toml is an error",
			content: "this is not [ valid toml",
			wantErr: true,
		},
		{
			name:    "out of range pipe index is rejected",
			content: "[discord]\npipe_index = 42\n",
			wantErr: true,
		},
		{
			name:    "invalid log level is rejected",
			content: "[log]\nlevel = \"verbose\"\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.toml")
			if !tt.noFile {
				if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
					t.Fatalf("WriteFile() error: %v", err)
				}
			}

			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Load() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Discord.AppID = "roundtrip-app"
	cfg.Discord.PipeIndex = 2
	cfg.Avatar.CheckReachable = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Discord.AppID != cfg.Discord.AppID {
		t.Errorf("AppID = %q, want %q", loaded.Discord.AppID, cfg.Discord.AppID)
	}
	if loaded.Discord.PipeIndex != cfg.Discord.PipeIndex {
		t.Errorf("PipeIndex = %d, want %d", loaded.Discord.PipeIndex, cfg.Discord.PipeIndex)
	}
	if !loaded.Avatar.CheckReachable {
		t.Error("Avatar.CheckReachable = false, want true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "pipe index too low", mutate: func(c *Config) { c.Discord.PipeIndex = -2 }, wantErr: true},
		{name: "pipe index too high", mutate: func(c *Config) { c.Discord.PipeIndex = 10 }, wantErr: true},
		{name: "negative max size", mutate: func(c *Config) { c.Log.MaxSizeMB = -1 }, wantErr: true},
		{name: "negative avatar timeout", mutate: func(c *Config) { c.Avatar.TimeoutSeconds = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() error = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}
