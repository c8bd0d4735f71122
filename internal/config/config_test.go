package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"lanxfer/internal/config"
)

func load(t *testing.T, args []string, file string) (config.Config, error) {
	t.Helper()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() returned an error: %v", err)
	}
	v := viper.New()
	if err := config.Bind(v, fs); err != nil {
		t.Fatalf("Bind() returned an error: %v", err)
	}
	if file != "" {
		if err := config.ReadFile(v, file); err != nil {
			t.Fatalf("ReadFile() returned an error: %v", err)
		}
	}
	return config.Load(v)
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := load(t, nil, "")
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg != config.Default() {
			t.Errorf("Load() = %+v, want %+v", cfg, config.Default())
		}
		if cfg.Addr() != "0.0.0.0:5000" {
			t.Errorf("Addr() = %q", cfg.Addr())
		}
		if cfg.MaxUploadBytes != 100*1024*1024*1024 {
			t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
		}
	})

	t.Run("Environment", func(t *testing.T) {
		t.Setenv("LANXFER_UPLOAD_DIR", "/srv/share")
		t.Setenv("LANXFER_PORT", "8081")
		t.Setenv("LANXFER_MAX_UPLOAD_BYTES", "1048576")
		t.Setenv("LANXFER_ADVERTISE_URL", "http://192.168.1.20:8081")
		t.Setenv("LANXFER_WEBDAV", "false")

		cfg, err := load(t, nil, "")
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg.UploadDir != "/srv/share" || cfg.Port != 8081 || cfg.MaxUploadBytes != 1<<20 {
			t.Errorf("env not applied: %+v", cfg)
		}
		if cfg.AdvertiseURL != "http://192.168.1.20:8081" || cfg.WebDAV {
			t.Errorf("env not applied: %+v", cfg)
		}
	})

	t.Run("FlagsWinOverEnvironment", func(t *testing.T) {
		t.Setenv("LANXFER_PORT", "8081")

		cfg, err := load(t, []string{"--port", "9000", "--log-level", "DEBUG"}, "")
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg.Port != 9000 {
			t.Errorf("Port = %d, want 9000", cfg.Port)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lanxfer.yaml")
		data := "uploadDir: shared\nport: 6000\nthumbnails: false\nlogFormat: json\n"
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := load(t, nil, path)
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg.UploadDir != "shared" || cfg.Port != 6000 || cfg.Thumbnails || cfg.LogFormat != "json" {
			t.Errorf("file not applied: %+v", cfg)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		cases := map[string][]string{
			"port":           {"--port", "70000"},
			"maxUploadBytes": {"--max-upload-bytes", "-1"},
			"logLevel":       {"--log-level", "verbose"},
			"logFormat":      {"--log-format", "xml"},
			"advertiseURL":   {"--advertise-url", "not a url"},
			"uploadDir":      {"--upload-dir", "  "},
		}

		for key, args := range cases {
			_, err := load(t, args, "")
			if err == nil {
				t.Errorf("%s: expected a validation error", key)
				continue
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("%s: error %q does not name the key", key, err)
			}
		}
	})
}

func TestReadFile_Missing(t *testing.T) {
	v := viper.New()

	if err := config.ReadFile(v, filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("ReadFile() with an explicit missing path should fail")
	}
}
