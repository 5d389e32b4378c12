package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/devrev/pairdb/txcoordinator/internal/config"
	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"github.com/devrev/pairdb/txcoordinator/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func resetFlags(t *testing.T) {
	t.Helper()
	configPath, logDir, jsonOut, quiet = "", "", false, false
	headersOnly, compaction = false, ""
	t.Cleanup(func() {
		configPath, logDir, jsonOut, quiet = "", "", false, false
		headersOnly, compaction = false, ""
	})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.LoggingSystem.Directory = t.TempDir()
	return cfg
}

// seedLog writes live transactions and finished ones to the log in cfg
func seedLog(t *testing.T, cfg *config.Config, live, finished int) []model.Xid {
	t.Helper()
	svc, err := service.NewLoggingService(cfg.LoggingSystem.ServiceConfig(), zap.NewNop(), service.WithoutRotationTask())
	require.NoError(t, err)

	var xids []model.Xid
	for i := 0; i < live+finished; i++ {
		xid := model.NewXid()
		require.NoError(t, svc.Create(xid, []byte("prepared")))
		require.NoError(t, svc.Modify(xid, []byte("committing")))
		if i >= live {
			require.NoError(t, svc.Delete(xid))
		}
		xids = append(xids, xid)
	}
	require.NoError(t, svc.Shutdown())
	return xids
}

func TestDumpCommand(t *testing.T) {
	resetFlags(t)
	cfg := testConfig(t)
	xids := seedLog(t, cfg, 1, 1)

	var out bytes.Buffer
	require.NoError(t, runDump(&out, cfg))

	text := out.String()
	assert.Contains(t, text, "txlog1.log")
	assert.Contains(t, text, "Role:       MASTER")
	assert.Contains(t, text, "Role:       SLAVE")
	assert.Contains(t, text, "Identifier: txcoordinator")
	assert.Contains(t, text, "Records:    5")
	assert.Contains(t, text, xids[0].Global.String())
	assert.Contains(t, text, "DELETE")
}

func TestDumpCommand_JSON(t *testing.T) {
	resetFlags(t)
	jsonOut = true
	cfg := testConfig(t)
	seedLog(t, cfg, 2, 0)

	var out bytes.Buffer
	require.NoError(t, runDump(&out, cfg))

	var files []dumpFile
	require.NoError(t, json.Unmarshal(out.Bytes(), &files))
	require.Len(t, files, 2)
	assert.Equal(t, "MASTER", files[0].Role)
	assert.Len(t, files[0].Records, 4)
	assert.Equal(t, "CREATE", files[0].Records[0].Operator)
	assert.Equal(t, len("prepared"), files[0].Records[0].PayloadBytes)
	assert.Empty(t, files[1].Records)
}

func TestDumpCommand_HeadersOnly(t *testing.T) {
	resetFlags(t)
	headersOnly = true
	cfg := testConfig(t)
	seedLog(t, cfg, 1, 0)

	var out bytes.Buffer
	require.NoError(t, runDump(&out, cfg))
	assert.NotContains(t, out.String(), "Records:")
	assert.Contains(t, out.String(), "Data bytes:")
}

func TestDumpCommand_MissingFiles(t *testing.T) {
	resetFlags(t)
	cfg := testConfig(t)

	var out bytes.Buffer
	require.NoError(t, runDump(&out, cfg))
	assert.Contains(t, out.String(), "(missing)")
}

func TestCompactCommand(t *testing.T) {
	resetFlags(t)
	jsonOut = true
	cfg := testConfig(t)
	seedLog(t, cfg, 2, 3)

	var out bytes.Buffer
	require.NoError(t, runCompact(&out, cfg))

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Greater(t, result["saved_bytes"].(float64), 0.0)
	assert.Equal(t, "none", result["compaction"])

	// Two live transactions, two records each, survive the rotation.
	out.Reset()
	require.NoError(t, runDump(&out, cfg))
	var files []dumpFile
	require.NoError(t, json.Unmarshal(out.Bytes(), &files))

	total := 0
	for _, f := range files {
		if f.Role == "MASTER" {
			total = len(f.Records)
		}
	}
	assert.Equal(t, 4, total)
}

func TestCompactCommand_Coalesce(t *testing.T) {
	resetFlags(t)
	compaction = "coalesce"
	cfg := testConfig(t)
	seedLog(t, cfg, 2, 0)

	var out bytes.Buffer
	require.NoError(t, runCompact(&out, cfg))
	assert.Contains(t, out.String(), "Compacted")

	jsonOut = true
	out.Reset()
	require.NoError(t, runDump(&out, cfg))
	var files []dumpFile
	require.NoError(t, json.Unmarshal(out.Bytes(), &files))
	for _, f := range files {
		if f.Role == "MASTER" {
			assert.Len(t, f.Records, 2)
		}
	}
}

func TestCompactCommand_UnknownCompaction(t *testing.T) {
	resetFlags(t)
	compaction = "zstd"
	cfg := testConfig(t)

	var out bytes.Buffer
	assert.Error(t, runCompact(&out, cfg))
}

func TestConfigCommand(t *testing.T) {
	resetFlags(t)
	cfg := testConfig(t)

	var out bytes.Buffer
	require.NoError(t, runConfig(&out, cfg))
	assert.Contains(t, out.String(), "logging_system:")
	assert.Contains(t, out.String(), "switch_interval: 1m0s")
}

func TestRootCommand_Dir(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"dump", "--dir", dir})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), dir)
}
