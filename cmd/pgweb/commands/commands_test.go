package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func initConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgweb", "config.yaml")
	out, err := execute(t, "init", "--config", path, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration file created at: "+path)
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pgweb "+Version)
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	path := initConfig(t)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	out, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Validation: OK")
	assert.Contains(t, out, "Listen port:     8080")
}

func TestConfigValidate_RejectsPortOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pg_web:\n  port: 5\n"), 0644))

	_, err := execute(t, "config", "validate", "--config", path)
	require.Error(t, err)
}

func TestConfigValidate_RejectsUnknownProfileType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "telemetry:\n  profiling:\n    enabled: true\n    profile_types: [cpu, heap]\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	_, err := execute(t, "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile_types")
	assert.Contains(t, err.Error(), `"heap"`)
}

func TestConfigValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "config", "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigShow_JSON(t *testing.T) {
	path := initConfig(t)

	out, err := execute(t, "config", "show", "--config", path, "--output", "json")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	web, ok := decoded["Web"].(map[string]any)
	require.True(t, ok, "missing Web section in %s", out)
	assert.EqualValues(t, 8080, web["Port"])
}

func TestConfigParams_Table(t *testing.T) {
	path := initConfig(t)

	out, err := execute(t, "config", "params", "--config", path, "--output", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "pg_web.log_level")
	assert.Contains(t, out, "pg_web.port")
	assert.Contains(t, out, "postmaster")
}

func TestConfigParams_EnvironmentOverride(t *testing.T) {
	path := initConfig(t)
	t.Setenv("PGWEB_PG_WEB_PORT", "9090")

	out, err := execute(t, "config", "params", "--config", path, "--output", "json")
	require.NoError(t, err)

	var params []struct {
		Name    string `json:"name"`
		Value   string `json:"value"`
		Context string `json:"context"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &params))
	require.Len(t, params, 2)
	assert.Equal(t, "pg_web.log_level", params[0].Name)
	assert.Equal(t, "sighup", params[0].Context)
	assert.Equal(t, "pg_web.port", params[1].Name)
	assert.Equal(t, "9090", params[1].Value)
	assert.Equal(t, "postmaster", params[1].Context)
}

func TestConfigParams_InvalidFormat(t *testing.T) {
	path := initConfig(t)
	_, err := execute(t, "config", "params", "--config", path, "--output", "xml")
	require.Error(t, err)
}

func TestStop_MissingPidFile(t *testing.T) {
	_, err := execute(t, "stop", "--pid-file", filepath.Join(t.TempDir(), "pgweb.pid"), "--force=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PID file not found")
}

func TestReadPidFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644))
	pid, err := readPidFile(good)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	running, ok := isProcessRunning(good)
	assert.True(t, ok)
	assert.Equal(t, os.Getpid(), running)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid"), 0644))
	_, err = readPidFile(bad)
	require.Error(t, err)

	_, ok = isProcessRunning(filepath.Join(dir, "missing.pid"))
	assert.False(t, ok)
}

func TestWorker_IsHidden(t *testing.T) {
	cmd, _, err := GetRootCmd().Find([]string{"worker"})
	require.NoError(t, err)
	assert.True(t, cmd.Hidden)
	assert.Equal(t, "worker", cmd.Name())
}

func writeEditor(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "editor.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestConfigEdit_ValidatesSavedFile(t *testing.T) {
	path := initConfig(t)
	t.Setenv("VISUAL", "")
	t.Setenv("EDITOR", writeEditor(t, `touch "$1"`))

	out, err := execute(t, "config", "edit", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration saved: "+path)
}

func TestConfigEdit_RejectsBrokenFile(t *testing.T) {
	path := initConfig(t)
	t.Setenv("VISUAL", writeEditor(t, `printf 'logging: [\n' > "$1"`))

	_, err := execute(t, "config", "edit", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saved configuration is invalid")
}

func TestConfigEdit_MissingFile(t *testing.T) {
	_, err := execute(t, "config", "edit", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pgweb init --config")
}
