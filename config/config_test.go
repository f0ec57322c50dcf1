package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
http:
  addr: ":8080"
grpc:
  addr: ":9090"
`))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "room-service", cfg.Logging.Service)
	assert.Equal(t, "dev", cfg.Logging.Env)
	assert.Equal(t, "std", cfg.Logging.Backend)

	read, write, idle := cfg.HTTP.Timeouts()
	assert.Equal(t, 15*time.Second, read)
	assert.Equal(t, 30*time.Second, write)
	assert.Equal(t, 60*time.Second, idle)
	assert.Equal(t, 10*time.Second, cfg.GRPC.CallTimeout())
	assert.Equal(t, 60*time.Second, cfg.Rooms.Heartbeat())
	assert.Equal(t, 30*time.Second, cfg.Rooms.Sweep())
	assert.Equal(t, 30*time.Second, cfg.Auth.Skew())
	assert.Equal(t, 30*time.Minute, cfg.Postgres.ConnLifetime())
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
http:
  addr: ":8080"
  readTimeout: 5s
  allowedOrigins: ["https://soulsync.app"]
grpc:
  addr: ":9090"
  timeout: 2s
store:
  driver: redis
  redisAddr: "localhost:6379"
rooms:
  heartbeatWindow: 20s
  sweepInterval: bogus
`))
	require.NoError(t, err)

	read, _, _ := cfg.HTTP.Timeouts()
	assert.Equal(t, 5*time.Second, read)
	assert.Equal(t, []string{"https://soulsync.app"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.GRPC.CallTimeout())
	assert.Equal(t, 20*time.Second, cfg.Rooms.Heartbeat())
	assert.Equal(t, 30*time.Second, cfg.Rooms.Sweep())
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"no http":      "grpc: {addr: ':9090'}",
		"no grpc":      "http: {addr: ':8080'}",
		"sqlite path":  "http: {addr: ':8080'}\ngrpc: {addr: ':9090'}\nstore: {driver: sqlite}",
		"redis addr":   "http: {addr: ':8080'}\ngrpc: {addr: ':9090'}\nstore: {driver: redis}",
		"postgres dsn": "http: {addr: ':8080'}\ngrpc: {addr: ':9090'}\nstore: {driver: postgres}",
		"unknown":      "http: {addr: ':8080'}\ngrpc: {addr: ':9090'}\nstore: {driver: etcd}",
		"auth issuer":  "http: {addr: ':8080'}\ngrpc: {addr: ':9090'}\nauth: {publicKeyPath: key.pem}",
		"broken yaml":  "http: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: {addr: ':1'}\ngrpc: {addr: ':2'}\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":1", cfg.HTTP.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedConfigParses(t *testing.T) {
	_, err := Load("config.yaml")
	require.NoError(t, err)
}
