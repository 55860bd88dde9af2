// Package config loads project settings. Values come from factum.toml, then
// from the .env file next to it and the process environment, then from the
// command line through viper.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"github.com/spf13/viper"

	"factum/internal/driver"
	"factum/internal/mangle"
)

// DefaultFile is read when no configuration file is named.
const DefaultFile = "factum.toml"

// minIdentifierLength leaves room for a hash tag and the longest suffix.
const minIdentifierLength = 32

// Keys lists every setting in dotted form.
var Keys = []string{
	"database.url",
	"database.schema",
	"engine.max_identifier_length",
	"engine.forbid_destructive",
	"engine.work_dir",
	"log.level",
}

// Config holds the project configuration.
type Config struct {
	Database Database `toml:"database"`
	Engine   Engine   `toml:"engine"`
	Log      Log      `toml:"log"`
}

type Database struct {
	URL    string `toml:"url"`
	Schema string `toml:"schema"`
}

type Engine struct {
	MaxIdentifierLength int    `toml:"max_identifier_length"`
	ForbidDestructive   bool   `toml:"forbid_destructive"`
	WorkDir             string `toml:"work_dir"`
}

type Log struct {
	// Level is a loggo specification, e.g. "<root>=INFO;factum.driver=DEBUG".
	Level string `toml:"level"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database: Database{Schema: driver.DefaultSchema},
		Engine:   Engine{MaxIdentifierLength: mangle.DefaultMaxLength, WorkDir: "."},
		Log:      Log{Level: "<root>=WARNING"},
	}
}

// Load reads the configuration file at path. An empty path reads
// DefaultFile when it exists. DATABASE_URL from the environment, or from a
// .env file beside the configuration, overrides database.url. A relative
// work_dir is taken relative to the configuration file.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	dir := filepath.Dir(path)
	md, err := toml.DecodeFile(path, cfg)
	switch {
	case os.IsNotExist(err) && !explicit:
		dir = "."
	case os.IsNotExist(err):
		return nil, errors.NewNotFound(err, "configuration "+path)
	case err != nil:
		return nil, errors.Annotatef(err, "reading %s", path)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, errors.NotValidf("%s: unknown settings %s", path, strings.Join(keys, ", "))
		}
	}

	if url, ok := lookupEnv(filepath.Join(dir, ".env"), "DATABASE_URL"); ok {
		cfg.Database.URL = url
	}
	if !filepath.IsAbs(cfg.Engine.WorkDir) {
		cfg.Engine.WorkDir = filepath.Join(dir, cfg.Engine.WorkDir)
	}
	return cfg, errors.Trace(cfg.Validate())
}

// lookupEnv returns key from the process environment, falling back to the
// dotenv file at path.
func lookupEnv(path, key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return "", false
	}
	v, ok := vars[key]
	return v, ok && v != ""
}

// Merge overrides settings with the values v holds for Keys, typically
// bound command-line flags and FACTUM_* environment variables.
func (c *Config) Merge(v *viper.Viper) error {
	if v.IsSet("database.url") {
		c.Database.URL = v.GetString("database.url")
	}
	if v.IsSet("database.schema") {
		c.Database.Schema = v.GetString("database.schema")
	}
	if v.IsSet("engine.max_identifier_length") {
		c.Engine.MaxIdentifierLength = v.GetInt("engine.max_identifier_length")
	}
	if v.IsSet("engine.forbid_destructive") {
		c.Engine.ForbidDestructive = v.GetBool("engine.forbid_destructive")
	}
	if v.IsSet("engine.work_dir") {
		c.Engine.WorkDir = v.GetString("engine.work_dir")
	}
	if v.IsSet("log.level") {
		c.Log.Level = v.GetString("log.level")
	}
	return errors.Trace(c.Validate())
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Schema) == "" {
		return errors.NotValidf("empty database.schema")
	}
	if n := c.Engine.MaxIdentifierLength; n < minIdentifierLength || n > mangle.DefaultMaxLength {
		return errors.NotValidf("engine.max_identifier_length %d (want %d to %d)", n, minIdentifierLength, mangle.DefaultMaxLength)
	}
	return nil
}

// DriverOptions returns the driver settings.
func (c *Config) DriverOptions() driver.Options {
	return driver.Options{
		Schema:              c.Database.Schema,
		MaxIdentifierLength: c.Engine.MaxIdentifierLength,
		ForbidDestructive:   c.Engine.ForbidDestructive,
	}
}
