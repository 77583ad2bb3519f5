package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"),
		[]byte("package p\n\nfunc foo() {\n\tbar()\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"),
		[]byte("package p\n\nfunc bar() {}\n"), 0o644))
	return root
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := run(t, "version", "--json")
	require.NoError(t, err)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.SQLiteDriver)
}

func TestInitCmd(t *testing.T) {
	root := t.TempDir()
	existing := `{"mcpServers": {"other": {"command": "other-server"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".mcp.json"), []byte(existing), 0o644))

	_, err := run(t, "init", "--root", root)
	require.NoError(t, err)

	cfg, err := config.Load(root)
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig().Worker.Model, cfg.Worker.Model)

	data, err := os.ReadFile(filepath.Join(root, ".mcp.json"))
	require.NoError(t, err)
	var doc struct {
		MCPServers map[string]mcpServerConfig `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.MCPServers, "other")
	assert.Equal(t, []string{"serve", "--root", root}, doc.MCPServers["codegraph"].Args)

	_, err = run(t, "init", "--root", root)
	assert.Error(t, err, "existing config is kept without --force")

	_, err = run(t, "init", "--root", root, "--force", "--no-mcp")
	assert.NoError(t, err)
}

func TestIndexAndSearchCmd(t *testing.T) {
	root := writeProject(t)

	out, err := run(t, "index", "--root", root, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "(full)")
	assert.Contains(t, out, "2 indexed")
	assert.FileExists(t, filepath.Join(root, ".codegraph", "codegraph.db"))

	out, err = run(t, "search", "bar", "--root", root, "--log-level", "error",
		"--mode", "metadata", "--type", "function", "--file", "b.go")
	require.NoError(t, err)
	assert.Contains(t, out, types.FunctionID("b.go", "bar", 3, 1))

	_, err = run(t, "search", "bar", "--root", root, "--mode", "fuzzy")
	assert.Error(t, err)

	_, err = run(t, "search", "bar", "--root", root, "--type", "widget")
	assert.ErrorIs(t, err, types.ErrUnknownNodeType)
}

func TestOpenApp_BadRoot(t *testing.T) {
	_, err := openApp(&rootOptions{root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestExplainCmd_NotConfigured(t *testing.T) {
	root := writeProject(t)
	_, err := run(t, "explain", "how", "is", "bar", "called", "--root", root, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explain.command")
}

func TestOpenApp_WorkerModes(t *testing.T) {
	root := writeProject(t)
	cfg := "worker:\n  command: embed-tool\n  mode: oneshot\nexplain:\n  command: rag-tool\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, config.FileName), []byte(cfg), 0o644))

	a, err := openApp(&rootOptions{root: root, logLevel: "error"})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	assert.Nil(t, a.worker, "no resident worker in oneshot mode")
	assert.IsType(t, &embedder.OneShot{}, a.embedder)
	require.NotNil(t, a.explainer)
	assert.Equal(t, 8, a.explainer.MaxResults())
}
