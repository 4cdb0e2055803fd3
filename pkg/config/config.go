package config

import (
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Database     string `default:"postgres://localhost/app" usage:"PostgreSQL DSN the application migrates against"`
	Python       string `default:"python3" usage:"Interpreter used for manage.py commands"`
	Pip          string `default:"pip" usage:"Command used to install Python packages"`
	ManagePy     string `default:"manage.py" usage:"Path to the project's manage.py"`
	Requirements string `default:"requirements.txt" usage:"Dependency manifest passed to pip"`
	StaticRoot   string `default:"staticfiles" usage:"Directory collectstatic writes to"`
	Log          struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output raw JSON instead of pretty console messages"`
	}
	Wait struct {
		Timeout  int `default:"60" usage:"Seconds to wait for the database before giving up"`
		Interval int `default:"2" usage:"Seconds between connection attempts"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object
func Loader() (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DECKHAND",
		SkipFlags: true,
		Files:     []string{"deckhand.toml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, err := pgxpool.ParseConfig(cfg.Database)
	if err != nil {
		return eris.Wrapf(err, `Invalid value for database`)
	}

	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Wait.Timeout < 1 {
		return eris.Errorf(`Invalid value for wait.timeout: %d (must be at least 1)`, cfg.Wait.Timeout)
	}

	if cfg.Wait.Interval < 1 {
		return eris.Errorf(`Invalid value for wait.interval: %d (must be at least 1)`, cfg.Wait.Interval)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
