//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/replay-orchestrator/internal/testsupport"
)

// env is an isolated replays/output/config layout for one test
type env struct {
	Root       string
	ReplaysDir string
	OutputDir  string
	DBPath     string
	ConfigPath string
	Converter  *testsupport.FakeConverter
}

func newEnv(t *testing.T, opts testsupport.ConverterOptions) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		Root:       root,
		ReplaysDir: filepath.Join(root, "replays"),
		OutputDir:  filepath.Join(root, "output"),
		DBPath:     filepath.Join(root, "history.db"),
		ConfigPath: filepath.Join(root, "config.toml"),
		Converter:  testsupport.NewFakeConverter(t, opts),
	}
	for _, dir := range []string{e.ReplaysDir, e.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	config := `[paths]
replays = "` + e.ReplaysDir + `"
output = "` + e.OutputDir + `"
converter = "` + e.Converter.Path + `"

[processing]
workers = 2
poll_interval = "10ms"

[logging]
level = "debug"
file = "` + filepath.Join(root, "app.log") + `"

[store]
database_path = "` + e.DBPath + `"

[notifications]
desktop = false
`
	if err := os.WriteFile(e.ConfigPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return e
}

// replay writes a replay large enough to pass the size threshold
func (e *env) replay(t *testing.T, name string) string {
	t.Helper()
	return testsupport.WriteReplay(t, e.ReplaysDir, name, 2_000_000)
}

// run executes the CLI with the env's config and returns combined output
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	args = append(args, "--config", e.ConfigPath)
	cmd := exec.Command(binaryPath(t), args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// mustRun fails the test when the command exits non-zero
func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("%s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}
