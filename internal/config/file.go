package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// fileConfig is the on-disk shape. Durations are strings such as "3s".
type fileConfig struct {
	DBPath       string `json:"db_path,omitempty" yaml:"db_path"`
	LogLevel     string `json:"log_level,omitempty" yaml:"log_level"`
	PollInterval string `json:"poll_interval,omitempty" yaml:"poll_interval"`
	Remote       *struct {
		URL     string `json:"url,omitempty" yaml:"url"`
		Key     string `json:"key,omitempty" yaml:"key"`
		Timeout string `json:"timeout,omitempty" yaml:"timeout"`
		Channel string `json:"channel,omitempty" yaml:"channel"`
	} `json:"remote,omitempty" yaml:"remote"`
	Admin *struct {
		Username     string `json:"username,omitempty" yaml:"username"`
		PasswordHash string `json:"password_hash,omitempty" yaml:"password_hash"`
	} `json:"admin,omitempty" yaml:"admin"`
}

// FileError reports a configuration file that could not be used.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("config file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// applyFile validates path against the embedded schema and copies every
// key it sets onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &FileError{Path: path, Err: err}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return &FileError{Path: path, Err: fmt.Errorf("schema: %w", err)}
	}

	var value cue.Value
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		value = ctx.CompileBytes(data, cue.Filename(path))
	case ".yaml", ".yml":
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return &FileError{Path: path, Err: err}
		}
		value = ctx.Encode(fc)
	default:
		return &FileError{Path: path, Err: fmt.Errorf("unsupported extension %q (want .cue, .yaml or .yml)", filepath.Ext(path))}
	}
	if err := value.Err(); err != nil {
		return &FileError{Path: path, Err: err}
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &FileError{Path: path, Err: err}
	}

	var fc fileConfig
	if err := unified.Decode(&fc); err != nil {
		return &FileError{Path: path, Err: err}
	}
	return fc.apply(cfg)
}

func (fc fileConfig) apply(cfg *Config) error {
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.LogLevel, fc.LogLevel)
	if err := setDuration(&cfg.PollInterval, fc.PollInterval); err != nil {
		return err
	}
	if r := fc.Remote; r != nil {
		setString(&cfg.Remote.URL, r.URL)
		setString(&cfg.Remote.Key, r.Key)
		setString(&cfg.Remote.Channel, r.Channel)
		if err := setDuration(&cfg.Remote.Timeout, r.Timeout); err != nil {
			return err
		}
	}
	if a := fc.Admin; a != nil {
		setString(&cfg.Admin.Username, a.Username)
		setString(&cfg.Admin.PasswordHash, a.PasswordHash)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
