package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "LANXFER"

	DefaultUploadDir      = "uploads"
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 5000
	DefaultMaxUploadBytes = int64(100) << 30 // 100 GiB
)

// Config is everything the service needs at startup. The zero value is not
// usable; start from Default or Load.
type Config struct {
	// UploadDir is the store root. Created if absent.
	UploadDir string `mapstructure:"uploadDir" json:"uploadDir" validate:"required"`

	// MaxUploadBytes caps a single upload. 0 disables the cap.
	MaxUploadBytes int64 `mapstructure:"maxUploadBytes" json:"maxUploadBytes" validate:"gte=0"`

	Host string `mapstructure:"host" json:"host" validate:"omitempty,ip|hostname"`
	Port int    `mapstructure:"port" json:"port" validate:"min=1,max=65535"`

	// AdvertiseURL overrides the resolved base URL shown to users.
	AdvertiseURL string `mapstructure:"advertiseURL" json:"advertiseURL,omitempty" validate:"omitempty,http_url"`

	// MaxConns limits simultaneous connections. 0 means unlimited.
	MaxConns int `mapstructure:"maxConns" json:"maxConns" validate:"gte=0"`

	Thumbnails bool `mapstructure:"thumbnails" json:"thumbnails"`
	WebDAV     bool `mapstructure:"webdav" json:"webdav"`
	QR         bool `mapstructure:"qr" json:"qr"`

	LogLevel  string `mapstructure:"logLevel" json:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"logFormat" json:"logFormat" validate:"oneof=text json"`
}

func Default() Config {
	return Config{
		UploadDir:      DefaultUploadDir,
		MaxUploadBytes: DefaultMaxUploadBytes,
		Host:           DefaultHost,
		Port:           DefaultPort,
		Thumbnails:     true,
		WebDAV:         true,
		QR:             true,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// keys maps config keys to their flag names.
var keys = map[string]string{
	"uploadDir":      "upload-dir",
	"maxUploadBytes": "max-upload-bytes",
	"host":           "host",
	"port":           "port",
	"advertiseURL":   "advertise-url",
	"maxConns":       "max-conns",
	"thumbnails":     "thumbnails",
	"webdav":         "webdav",
	"qr":             "qr",
	"logLevel":       "log-level",
	"logFormat":      "log-format",
}

// RegisterFlags adds the serve flags to fs with their default values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("upload-dir", d.UploadDir, "directory holding the shared files")
	fs.Int64("max-upload-bytes", d.MaxUploadBytes, "largest accepted upload in bytes (0 = unlimited)")
	fs.String("host", d.Host, "bind address")
	fs.IntP("port", "p", d.Port, "listen port")
	fs.String("advertise-url", "", "base URL shown to clients (default: resolved from the LAN address)")
	fs.Int("max-conns", 0, "maximum simultaneous connections (0 = unlimited)")
	fs.Bool("thumbnails", d.Thumbnails, "show image thumbnails in the listing")
	fs.Bool("webdav", d.WebDAV, "serve a read-only WebDAV view under /dav/")
	fs.Bool("qr", d.QR, "print the access URL as a QR code")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "log format: text or json")
}

// Bind wires defaults, environment variables and the flags in fs into v.
// Flags registered with RegisterFlags win over the environment, which wins
// over a config file, which wins over defaults.
func Bind(v *viper.Viper, fs *pflag.FlagSet) error {
	d := Default()
	defaults := map[string]any{
		"uploadDir":      d.UploadDir,
		"maxUploadBytes": d.MaxUploadBytes,
		"host":           d.Host,
		"port":           d.Port,
		"advertiseURL":   d.AdvertiseURL,
		"maxConns":       d.MaxConns,
		"thumbnails":     d.Thumbnails,
		"webdav":         d.WebDAV,
		"qr":             d.QR,
		"logLevel":       d.LogLevel,
		"logFormat":      d.LogFormat,
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
		if err := v.BindEnv(key, envName(key)); err != nil {
			return err
		}
		if fs == nil {
			continue
		}
		if f := fs.Lookup(keys[key]); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// envName turns "maxUploadBytes" into "LANXFER_MAX_UPLOAD_BYTES".
func envName(key string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	b.WriteByte('_')
	for i, r := range key {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(key[i-1] >= 'A' && key[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ReadFile loads path into v. An empty path looks for lanxfer.{yaml,json,toml}
// in the working directory and is not an error when none exists.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName("lanxfer")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.UploadDir = strings.TrimSpace(c.UploadDir)
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
