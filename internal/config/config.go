package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"btdt/internal/cacheerr"
)

// CacheSpec is one [caches.<name>] table: a Filesystem cache
// rooted at Path, an InMemory cache, or an S3 cache backed by Bucket.
type CacheSpec struct {
	Name string `toml:"name"`
	Type string `toml:"type"` // "Filesystem", "InMemory", or "S3"
	Path string `toml:"path"`

	// S3 fields, only meaningful when Type == "S3".
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	KeyPrefix string `toml:"key_prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// CleanupConfig is the [cleanup] section.
type CleanupConfig struct {
	Interval        Duration `toml:"interval"`
	CacheExpiration Duration `toml:"cache_expiration"`
	MaxCacheSize    ByteSize `toml:"max_cache_size"`
}

// Config is the root of the server's TOML configuration file. Zero
// values are filled with the documented defaults by Default before a
// file is parsed on top of them.
type Config struct {
	AuthPrivateKey      string            `toml:"auth_private_key"`
	BindAddrs           []string          `toml:"bind_addrs"`
	EnableAPIDocs       bool              `toml:"enable_api_docs"`
	TLSKeystore         string            `toml:"tls_keystore"`
	TLSKeystorePassword string            `toml:"tls_keystore_password"`
	Cleanup             CleanupConfig     `toml:"cleanup"`
	Caches              map[string]CacheSpec `toml:"caches"`
}

// Default returns the configuration with every documented default
// applied, before a TOML file or environment overrides are layered on
// top.
func Default() Config {
	return Config{
		BindAddrs:     []string{"0.0.0.0:8707"},
		EnableAPIDocs: true,
		Cleanup: CleanupConfig{
			Interval:        Duration{mustParseDuration("10min")},
			CacheExpiration: Duration{mustParseDuration("7days")},
			MaxCacheSize:    ByteSize(mustParseByteSize("50GiB")),
		},
		Caches: map[string]CacheSpec{},
	}
}

func mustParseDuration(s string) time.Duration {
	parsed, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustParseByteSize(s string) int64 {
	n, err := ParseByteSize(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Load reads path as TOML into a copy of Default(), then applies
// BTDT_-prefixed environment variable overrides, then validates.
// Environment overrides are applied after the file, so they take
// precedence over it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, cacheerr.WithPath(cacheerr.InvalidInput, "parse config file", path, err)
		}
	}
	for name, spec := range cfg.Caches {
		spec.Name = name
		cfg.Caches[name] = spec
	}
	if err := applyEnvOverrides(&cfg, "BTDT", os.Environ()); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the handful of invariants this config form implies:
// at least one bind address, every configured cache has a recognized
// type, Filesystem caches name a path, S3 caches name a bucket.
func (c Config) Validate() error {
	if len(c.BindAddrs) == 0 {
		return cacheerr.New(cacheerr.InvalidInput, "config: bind_addrs must not be empty")
	}
	for name, spec := range c.Caches {
		switch spec.Type {
		case "Filesystem":
			if spec.Path == "" {
				return cacheerr.New(cacheerr.InvalidInput, fmt.Sprintf("config: cache %q: Filesystem requires path", name))
			}
		case "InMemory":
		case "S3":
			if spec.Bucket == "" {
				return cacheerr.New(cacheerr.InvalidInput, fmt.Sprintf("config: cache %q: S3 requires bucket", name))
			}
		default:
			return cacheerr.New(cacheerr.InvalidInput, fmt.Sprintf("config: cache %q: unknown type %q", name, spec.Type))
		}
	}
	return nil
}

// applyEnvOverrides walks cfg's exported fields and, for each one,
// checks whether PREFIX_FIELD (uppercased, __ separating nested
// struct fields) is set in environ; if so it parses and assigns it.
// e.g. BTDT_CLEANUP__INTERVAL overrides Config.Cleanup.Interval.
func applyEnvOverrides(cfg *Config, prefix string, environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return overrideStruct(reflect.ValueOf(cfg).Elem(), prefix+"_", env)
}

// overrideStruct walks v's exported fields, building each candidate
// env var name as envPrefix+FIELDNAME. The field name is uppercased
// verbatim, with no inserted word separators, so a multi-word field
// like MaxCacheSize maps to ...MAXCACHESIZE rather than
// ...MAX_CACHE_SIZE; check a struct's field names, not its TOML keys,
// when looking up its override variable. envPrefix already ends in
// "_" (single, for the top level) or "__" (for every nested level),
// which is how BTDT_CLEANUP__INTERVAL gets one underscore after the
// program prefix and two between section and field.
func overrideStruct(v reflect.Value, envPrefix string, env map[string]string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := envPrefix + strings.ToUpper(field.Name)
		fv := v.Field(i)

		// A struct that implements TextUnmarshaler (Duration, ByteSize)
		// is a leaf value for override purposes, not a section to
		// recurse into: check for the env var at this field's own key
		// before descending, or BTDT_CLEANUP__INTERVAL would be missed
		// in favor of looking for BTDT_CLEANUP__INTERVAL__DURATION.
		if fv.Kind() == reflect.Struct && !isTextUnmarshaler(fv) {
			if err := overrideStruct(fv, key+"__", env); err != nil {
				return err
			}
			continue
		}

		raw, ok := env[key]
		if !ok {
			continue
		}
		if err := assignEnvValue(fv, raw); err != nil {
			return cacheerr.Wrap(cacheerr.InvalidInput, fmt.Sprintf("config: env override %s", key), err)
		}
	}
	return nil
}

// EnsureAuthPrivateKey generates an ed25519 private key at path with
// mode 0600 if nothing exists there yet. The real biscuit-v2 key
// material format is an external collaborator's concern; this only
// guarantees that some 0600 secret file exists at the configured path
// so the rest of the server's startup sequence has something to load.
func EnsureAuthPrivateKey(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return cacheerr.WithPath(cacheerr.IO, "stat auth private key", path, err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return cacheerr.Wrap(cacheerr.IO, "generate auth private key", err)
	}
	encoded := hex.EncodeToString(priv)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return cacheerr.WithPath(cacheerr.IO, "write auth private key", path, err)
	}
	return nil
}

func isTextUnmarshaler(fv reflect.Value) bool {
	_, ok := fv.Addr().Interface().(interface{ UnmarshalText([]byte) error })
	return ok
}

func assignEnvValue(fv reflect.Value, raw string) error {
	if u, ok := fv.Addr().Interface().(interface{ UnmarshalText([]byte) error }); ok {
		return u.UnmarshalText([]byte(raw))
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.String {
			fv.Set(reflect.ValueOf(strings.Split(raw, ",")))
			return nil
		}
		return fmt.Errorf("unsupported slice element type %s", fv.Type().Elem())
	default:
		return fmt.Errorf("unsupported field kind %s for env override", fv.Kind())
	}
	return nil
}
