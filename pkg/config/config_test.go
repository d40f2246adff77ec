package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", newFlags(t))
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want, cfg)
	assert.Empty(t, cfg.File)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`
http_addr: ":9000"
grpc_addr: ":9001"
max_digits: 12
log_level: debug
`), 0o644))

	t.Setenv("CALC_GRPC_ADDR", ":9101")
	t.Setenv("CALC_MAX_DIGITS", "10")

	cfg, err := Load("", newFlags(t, "--max-digits=8"))
	require.NoError(t, err)

	assert.Equal(t, ConfigFileName, cfg.File)
	assert.Equal(t, ":9000", cfg.HTTPAddr, "from file")
	assert.Equal(t, ":9101", cfg.GRPCAddr, "env beats file")
	assert.Equal(t, 8, cfg.MaxDigits, "flag beats env")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat, "unset flag does not override")
}

func TestLoadExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("history: calc.db\ntapes_dir: tapes\n"), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "calc.db", cfg.History)
	assert.Equal(t, "tapes", cfg.TapesDir)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"json", func(c *Config) { c.LogFormat = "JSON" }, true},
		{"zero digits", func(c *Config) { c.MaxDigits = 0 }, false},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, false},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CALC_LOG_FORMAT", "xml")
	_, err := Load("", nil)
	assert.ErrorContains(t, err, "log_format")
}

// chdir changes the working directory for the duration of the test,
// standing in for testing.T.Chdir (Go 1.24+) on older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
