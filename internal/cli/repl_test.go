package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JayabrataBasu/veridicalagg/internal/config"
	"github.com/JayabrataBasu/veridicalagg/internal/logger"
	"github.com/JayabrataBasu/veridicalagg/pkg/auth"
	"github.com/JayabrataBasu/veridicalagg/pkg/engine"
)

func TestMain(m *testing.M) {
	os.Setenv(auth.AdminPasswordEnv, "admin-test")
	os.Exit(m.Run())
}

func newTestREPL(t *testing.T) (*REPL, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		Catalog: config.CatalogConfig{DataDir: t.TempDir()},
		Log:     config.LogConfig{Level: "error", Format: "text", Output: "stderr"},
		Engine:  config.EngineConfig{Workers: 2, LockTimeoutMs: 1000, DefaultRole: "admin"},
		Import:  config.ImportConfig{Schemas: []string{"public"}},
	}
	eng, err := engine.New(cfg, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	var out bytes.Buffer
	r := NewREPL(cfg, logger.NewNop(), eng)
	r.SetOutput(&out)
	return r, &out
}

const rankDDL = `CREATE AGGREGATE my_rank(VARIADIC "any" ORDER BY VARIADIC "any") (
    FINALFUNC = hypothetical_rank_final,
    HYPOTHETICAL
);`

func TestREPLCommands(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		result   commandResult
		expected []string // substrings that should appear in output
	}{
		{"help", "\\?", commandOK, []string{"\\rank", "CREATE AGGREGATE"}},
		{"help statement", "HELP;", commandOK, []string{"Backslash Commands"}},
		{"quit", "\\q", commandExit, nil},
		{"exit statement", "exit;", commandExit, nil},
		{"unknown", "\\bogus", commandError, []string{"Unknown command: \\bogus"}},
		{"config", "\\config", commandOK, []string{"Workers:          2", "Default Role:     admin"}},
		{"status", "\\status", commandOK, []string{"uptime_seconds", "aggregates"}},
		{"schemas", "\\dn", commandOK, []string{"pg_catalog", "public"}},
		{"roles", "\\du", commandOK, []string{"admin"}},
		{"empty aggregates", "\\da", commandOK, []string{"(0 rows)"}},
		{"metrics", "\\metrics", commandOK, []string{"veridicalagg_uptime_seconds"}},
		{"syntax error", "CREATE AGGREGATE;", commandError, []string{"ERROR:", "42601"}},
		{"rank usage", "\\rank my_rank", commandError, []string{"Usage: \\rank"}},
		{"role show", "\\role", commandOK, []string{"Current role: admin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, out := newTestREPL(t)
			if got := r.processCommand(tt.input); got != tt.result {
				t.Errorf("processCommand(%q) = %v, want %v\noutput:\n%s", tt.input, got, tt.result, out.String())
			}
			for _, exp := range tt.expected {
				if !strings.Contains(out.String(), exp) {
					t.Errorf("expected output to contain %q, got:\n%s", exp, out.String())
				}
			}
		})
	}
}

func TestDefineAndRank(t *testing.T) {
	r, out := newTestREPL(t)

	if got := r.processCommand(rankDDL); got != commandOK {
		t.Fatalf("CREATE AGGREGATE failed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "CREATE AGGREGATE") {
		t.Errorf("expected command tag, got:\n%s", out.String())
	}

	out.Reset()
	r.processCommand("\\da my_")
	if !strings.Contains(out.String(), "public.my_rank") || !strings.Contains(out.String(), "hypothetical") {
		t.Errorf("\\da output missing aggregate:\n%s", out.String())
	}

	out.Reset()
	if got := r.processCommand("\\rank my_rank int4 25 10,20,30"); got != commandOK {
		t.Fatalf("\\rank failed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "my_rank(25) = 3") {
		t.Errorf("unexpected rank output:\n%s", out.String())
	}

	out.Reset()
	if got := r.processCommand("\\ranks int4 5 5 5 5"); got != commandOK {
		t.Fatalf("\\ranks failed:\n%s", out.String())
	}
	for _, want := range []string{"rank", "cume_dist", "4"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("\\ranks output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if got := r.processCommand("\\rank my_rank int4 abc 1"); got != commandError {
		t.Errorf("expected bad input to fail, got %v", got)
	}
	if !strings.Contains(out.String(), "22P02") {
		t.Errorf("expected invalid text representation, got:\n%s", out.String())
	}
}

func TestRoleSwitch(t *testing.T) {
	r, out := newTestREPL(t)
	if got := r.processCommand("CREATE ROLE alice PASSWORD 'secret';"); got != commandOK {
		t.Fatalf("CREATE ROLE failed:\n%s", out.String())
	}

	if got := r.processCommand("\\role alice wrong"); got != commandError {
		t.Errorf("expected wrong password to fail")
	}
	if r.Role() != "admin" {
		t.Errorf("role changed after failed authentication: %s", r.Role())
	}

	if got := r.processCommand("\\role alice secret"); got != commandOK {
		t.Fatalf("role switch failed:\n%s", out.String())
	}
	if r.Role() != "alice" {
		t.Errorf("expected alice, got %s", r.Role())
	}

	out.Reset()
	if got := r.processCommand("CREATE SCHEMA private;"); got != commandError {
		t.Errorf("expected non-superuser CREATE SCHEMA to fail")
	}
	if !strings.Contains(out.String(), "42501") {
		t.Errorf("expected insufficient privilege, got:\n%s", out.String())
	}
}

func TestInclude(t *testing.T) {
	r, out := newTestREPL(t)
	dir := t.TempDir()

	sqlPath := filepath.Join(dir, "defs.sql")
	if err := os.WriteFile(sqlPath, []byte("CREATE SCHEMA analytics;\n"+rankDDL), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := r.processCommand("\\i " + sqlPath); got != commandOK {
		t.Fatalf("\\i sql failed:\n%s", out.String())
	}

	yamlPath := filepath.Join(dir, "defs.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
aggregates:
  - name: analytics.my_dense
    args: ["VARIADIC any"]
    direct_args: 1
    attributes:
      finalfunc: hypothetical_dense_rank_final
      hypothetical:
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := r.processCommand("\\i " + yamlPath); got != commandOK {
		t.Fatalf("\\i yaml failed:\n%s", out.String())
	}

	if n := len(r.eng.Store().Aggregates()); n != 2 {
		t.Errorf("expected 2 aggregates, got %d", n)
	}

	if got := r.processCommand("\\i " + filepath.Join(dir, "missing.sql")); got != commandError {
		t.Errorf("expected missing file to fail")
	}
	if got := r.processCommand("\\i"); got != commandError {
		t.Errorf("expected usage error")
	}
}

func TestImportRequiresDSN(t *testing.T) {
	r, out := newTestREPL(t)
	if got := r.processCommand("\\import"); got != commandError {
		t.Errorf("expected usage error without a dsn")
	}
	if !strings.Contains(out.String(), "Usage: \\import") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}
