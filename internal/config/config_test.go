package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factum/internal/driver"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	path := writeFile(t, dir, "factum.toml", `
[database]
url = "postgres://localhost/app"
schema = "app"

[engine]
max_identifier_length = 40
forbid_destructive = true
work_dir = "facts"

[log]
level = "<root>=INFO"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Database: Database{URL: "postgres://localhost/app", Schema: "app"},
		Engine:   Engine{MaxIdentifierLength: 40, ForbidDestructive: true, WorkDir: filepath.Join(dir, "facts")},
		Log:      Log{Level: "<root>=INFO"},
	}, cfg)
	assert.Equal(t, driver.Options{Schema: "app", MaxIdentifierLength: 40, ForbidDestructive: true}, cfg.DriverOptions())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeFile(t, t.TempDir(), "factum.toml", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "public", cfg.Database.Schema)
	assert.Equal(t, 63, cfg.Engine.MaxIdentifierLength)
	assert.Equal(t, "<root>=WARNING", cfg.Log.Level)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadDatabaseURLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "factum.toml", "[database]\nurl = \"postgres://file/app\"\n")
	writeFile(t, dir, ".env", "DATABASE_URL=postgres://dotenv/app\n")

	t.Run("dotenv", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "postgres://dotenv/app", cfg.Database.URL)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://env/app")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "postgres://env/app", cfg.Database.URL)
	})
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		check   func(error) bool
	}{
		{name: "unknown key", content: "[engine]\nforbid = true\n", check: func(err error) bool { return errors.Is(err, errors.NotValid) }},
		{name: "length too small", content: "[engine]\nmax_identifier_length = 8\n", check: func(err error) bool { return errors.Is(err, errors.NotValid) }},
		{name: "length too large", content: "[engine]\nmax_identifier_length = 64\n", check: func(err error) bool { return errors.Is(err, errors.NotValid) }},
		{name: "empty schema", content: "[database]\nschema = \" \"\n", check: func(err error) bool { return errors.Is(err, errors.NotValid) }},
		{name: "malformed", content: "[engine\n", check: func(err error) bool { return err != nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".toml", tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestMerge(t *testing.T) {
	cfg := Default()
	v := viper.New()
	v.Set("database.schema", "staging")
	v.Set("engine.forbid_destructive", true)
	v.Set("engine.max_identifier_length", 48)

	require.NoError(t, cfg.Merge(v))
	assert.Equal(t, "staging", cfg.Database.Schema)
	assert.True(t, cfg.Engine.ForbidDestructive)
	assert.Equal(t, 48, cfg.Engine.MaxIdentifierLength)
	assert.Equal(t, ".", cfg.Engine.WorkDir)

	v.Set("engine.max_identifier_length", 1)
	assert.Error(t, cfg.Merge(v))
}
