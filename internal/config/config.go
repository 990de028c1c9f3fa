// Package config loads service configuration from the environment.
//
// Values come from process environment variables; a .env file in the
// working directory is loaded first when present. Each configuration type
// is parsed once and cached.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the top-level configuration of the metalfsm service.
type Config struct {
	Env       string `env:"METALFSM_ENV" envDefault:"development"`
	LogLevel  string `env:"METALFSM_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"METALFSM_LOG_FORMAT" envDefault:"text"`
	HTTPAddr  string `env:"METALFSM_HTTP_ADDR" envDefault:":6385"`

	// Store selects the node store: "memory" or "redis".
	Store string `env:"METALFSM_STORE" envDefault:"memory"`

	Conductor Conductor
	Redis     Redis
	AMT       AMT
	Fabric    Fabric
}

// Conductor tunes node orchestration.
type Conductor struct {
	// DeployCallbackTimeout bounds how long a node may wait for its deploy
	// callback before it is moved to the error state. Zero disables it.
	DeployCallbackTimeout time.Duration `env:"METALFSM_DEPLOY_CALLBACK_TIMEOUT" envDefault:"30m"`
	// Workers limits how many nodes are driven in parallel by bulk calls.
	Workers int `env:"METALFSM_WORKERS" envDefault:"8"`
}

// Redis configures the Redis node store.
type Redis struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	KeyPrefix      string        `env:"REDIS_KEY_PREFIX" envDefault:"metalfsm:"`
}

// AMT configures the AMT power driver.
type AMT struct {
	ToolPath string `env:"AMT_TOOL_PATH" envDefault:"/usr/bin/amttool"`
}

// Fabric configures the network fabric client. An empty URL disables port
// updates.
type Fabric struct {
	URL     string        `env:"FABRIC_URL"`
	Token   string        `env:"FABRIC_TOKEN"`
	Timeout time.Duration `env:"FABRIC_TIMEOUT" envDefault:"30s"`
}

type configCache struct {
	mu     sync.RWMutex
	values map[string]any
}

var (
	globalCache = &configCache{values: make(map[string]any)}

	defaultEnvLoaded sync.Once
)

// Load parses environment variables into v. The result is cached per type;
// later calls for the same type return the cached value.
func Load[T any](v *T) error {
	defaultEnvLoaded.Do(func() {
		// The .env file is optional
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	typeName := getTypeName[T]()

	globalCache.mu.RLock()
	cached, ok := globalCache.values[typeName]
	globalCache.mu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	globalCache.mu.Lock()
	defer globalCache.mu.Unlock()
	if cached, ok := globalCache.values[typeName]; ok {
		*v = cached.(T)
		return nil
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	globalCache.values[typeName] = *v
	return nil
}

// MustLoad works like Load but panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// LoadEnv loads the given .env files into the process environment. Values
// in later files override earlier ones.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := godotenv.Overload(paths...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// ResetCache drops every cached configuration.
func ResetCache() {
	globalCache.mu.Lock()
	globalCache.values = make(map[string]any)
	globalCache.mu.Unlock()
}

func getTypeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return t.PkgPath() + "." + t.String()
}
