package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/conceptgraph-go/pkg/core"
	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// writeConfig writes a YAML config backed by a sqlite file in a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conceptgraph.yaml")
	body := "embedder:\n  provider: local\n  dimensions: 64\n" +
		"cache:\n  max_wait: 1ms\n" +
		"persistence:\n  provider: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "graph.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLearnSearchAcrossInvocations(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "-c", cfg, "learn", "Bees", "make", "honey", "--hint", "Insect")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "created "+graph.ConceptID("Bees make honey")+"\n"), out)

	out, err = run(t, "-c", cfg, "learn", "Bees make honey")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "merged "), out)

	out, err = run(t, "-c", cfg, "search", "honey", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "SCORE")
	assert.Contains(t, out, "Bees make honey")

	out, err = run(t, "-c", cfg, "--json", "health")
	require.NoError(t, err)
	var h graph.HealthStatus
	require.NoError(t, json.Unmarshal([]byte(out), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 2, h.Concepts)
	assert.Positive(t, h.Associations)
}

func TestAskPrintsPaths(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, "-c", cfg, "learn", "Dogs are mammals", "--hint", "Mammal")
	require.NoError(t, err)

	out, err := run(t, "-c", cfg, "--json", "ask", "dogs", "--max-paths", "3")
	require.NoError(t, err)
	var paths []graph.ReasoningPath
	require.NoError(t, json.Unmarshal([]byte(out), &paths))
	assert.LessOrEqual(t, len(paths), 3)
}

func TestMaintain(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, "-c", cfg, "learn", "Fresh fact")
	require.NoError(t, err)

	out, err := run(t, "-c", cfg, "--json", "maintain")
	require.NoError(t, err)
	var report maintenanceReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.LessOrEqual(t, report.Decayed, 1)
	assert.Empty(t, report.Pruned)
}

func TestCommandErrors(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, "-c", cfg, "learn")
	assert.Error(t, err)

	_, err = run(t, "-c", filepath.Join(t.TempDir(), "missing.yaml"), "health")
	assert.Error(t, err)

	_, err = run(t, "-c", cfg, "ask", "   ")
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, core.Version+"\n", out)
}

func TestServeAndRemoteCommands(t *testing.T) {
	cfg, err := core.LoadConfigFromYAML(writeConfig(t))
	require.NoError(t, err)
	cfg.ListenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ready) }()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	remote := addr.String()

	out, err := run(t, "--remote", remote, "learn", "Cats are mammals", "--hint", "Mammal")
	require.NoError(t, err)
	assert.Contains(t, out, graph.ConceptID("Cats are mammals"))

	out, err = run(t, "--remote", remote, "--json", "health")
	require.NoError(t, err)
	var h graph.HealthStatus
	require.NoError(t, json.Unmarshal([]byte(out), &h))
	assert.Equal(t, 2, h.Concepts)
	assert.Equal(t, core.Version, h.Version)

	_, err = run(t, "--remote", remote, "maintain")
	assert.ErrorContains(t, err, "local graph only")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
