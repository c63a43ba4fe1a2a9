package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// writeConfig writes a slack config with a sqlite database in a temp dir
// and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "breakdowns.db")
	body := "chat:\n  platform: slack\n  slack:\n    app_token: xapp-1\n    bot_token: xoxb-1\n" +
		"database:\n  driver: sqlite\n  path: " + dbPath + "\n" + extra
	path := filepath.Join(dir, "breakdown.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
