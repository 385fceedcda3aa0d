package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"patientchat/internal/config"
	"patientchat/internal/storage"
	"patientchat/internal/worker"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "patientchat", cmd.Use)

	for _, name := range []string{"serve", "migrate"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "command %s should exist", name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestConfigFlagDefaultsToEnv(t *testing.T) {
	t.Setenv("PATIENTCHAT_CONFIG", "/etc/patientchat.yaml")
	cmd := NewRootCommand()
	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "/etc/patientchat.yaml", flag.DefValue)
}

func TestMigrateCreatesSchema(t *testing.T) {
	for _, key := range []string{"STORE_URI", "MONGO_URI", "STORE_DRIVER", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  uri: "+dbPath+"\nlog:\n  level: error\n"), 0o600))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate", "--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "migration complete")

	store, err := storage.OpenSQL("sqlite3", dbPath)
	require.NoError(t, err)
	defer store.Close()
	users, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestMigrateMissingConfig(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"migrate", "--config", filepath.Join(t.TempDir(), "absent.json")})
	assert.Error(t, cmd.Execute())
}

func TestNewExecutor(t *testing.T) {
	on, off := true, false
	cfg := &config.Config{}
	cfg.Realtime.SerializeWrites = &on
	exec, stop := newExecutor(cfg, zap.NewNop())
	assert.IsType(t, &worker.Manager{}, exec)
	stop()

	cfg.Realtime.SerializeWrites = &off
	exec, stop = newExecutor(cfg, zap.NewNop())
	assert.IsType(t, worker.Inline{}, exec)
	stop()
}
