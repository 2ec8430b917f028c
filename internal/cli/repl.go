// Package cli provides the interactive shell for veridicalagg
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/chzyer/readline"

	"github.com/JayabrataBasu/veridicalagg/internal/config"
	"github.com/JayabrataBasu/veridicalagg/internal/logger"
	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
	"github.com/JayabrataBasu/veridicalagg/pkg/engine"
	"github.com/JayabrataBasu/veridicalagg/pkg/hypothetical"
	"github.com/JayabrataBasu/veridicalagg/pkg/observability"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// Version of veridicalagg
const Version = "0.1.0"

const (
	prompt         = "veridicalagg=# "
	continuePrompt = "veridicalagg-# "
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8B5CF6"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B"))
)

// REPL implements the Read-Eval-Print Loop for veridicalagg
type REPL struct {
	config *config.Config
	log    *logger.Logger
	eng    *engine.Engine
	role   string
	out    io.Writer
	rl     *readline.Instance
}

// NewREPL creates a new REPL acting as the configured default role.
func NewREPL(cfg *config.Config, log *logger.Logger, eng *engine.Engine) *REPL {
	return &REPL{
		config: cfg,
		log:    log,
		eng:    eng,
		role:   cfg.Engine.DefaultRole,
		out:    os.Stdout,
	}
}

// SetOutput redirects everything the REPL prints.
func (r *REPL) SetOutput(w io.Writer) { r.out = w }

// Role returns the role commands currently run as.
func (r *REPL) Role() string { return r.role }

// Run starts the REPL loop
func (r *REPL) Run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     getHistoryFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    newCompleter(),
		Stdout:          r.out,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	r.printWelcome()

	var buffer strings.Builder
	for {
		if buffer.Len() > 0 {
			rl.SetPrompt(continuePrompt)
		} else {
			rl.SetPrompt(prompt)
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if buffer.Len() > 0 {
				buffer.Reset()
				fmt.Fprintln(r.out, "^C")
			}
			continue
		} else if err == io.EOF {
			fmt.Fprintln(r.out, "\nGoodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Backslash commands end at the newline, SQL at the semicolon.
		if buffer.Len() == 0 && strings.HasPrefix(line, "\\") {
			if r.processCommand(line) == commandExit {
				fmt.Fprintln(r.out, "Goodbye!")
				return nil
			}
			continue
		}

		if buffer.Len() > 0 {
			buffer.WriteString("\n")
		}
		buffer.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			continue
		}
		result := r.processCommand(buffer.String())
		buffer.Reset()
		if result == commandExit {
			fmt.Fprintln(r.out, "Goodbye!")
			return nil
		}
	}
}

type commandResult int

const (
	commandOK commandResult = iota
	commandExit
	commandError
)

func (r *REPL) processCommand(input string) commandResult {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "\\") {
		return r.handleBackslashCommand(input)
	}

	upper := strings.ToUpper(strings.TrimSuffix(input, ";"))
	switch strings.TrimSpace(upper) {
	case "EXIT", "QUIT":
		return commandExit
	case "HELP":
		r.printHelp()
		return commandOK
	}

	r.log.Debug("executing statement", "role", r.role, "sql", input)
	results, err := r.eng.ExecDDL(context.Background(), r.role, input)
	for _, res := range results {
		r.printResult(res)
	}
	if err != nil {
		r.printError(err)
		return commandError
	}
	return commandOK
}

func (r *REPL) handleBackslashCommand(input string) commandResult {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return commandOK
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "\\q", "\\quit", "\\exit":
		return commandExit

	case "\\?", "\\help":
		r.printHelp()

	case "\\da":
		r.printRows("List of aggregates", filterRows(r.eng.System().GetAggregates(), "aggregate", args))

	case "\\df":
		ns := ""
		if len(args) > 0 {
			ns = args[0]
		}
		r.printRows("List of functions", r.eng.System().GetFunctions(ns))

	case "\\dd":
		r.printRows("Dependencies", r.eng.System().GetDependencies())

	case "\\dn":
		r.listNamespaces()

	case "\\du":
		r.listRoles()

	case "\\locks":
		r.printRows("Locks", r.eng.System().GetLocks())

	case "\\txns":
		r.printRows("Active transactions", r.eng.System().GetActiveTransactions())

	case "\\rank":
		return r.rank(args)

	case "\\ranks":
		return r.ranks(args)

	case "\\role":
		return r.switchRole(args)

	case "\\i", "\\include":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "Usage: \\i <file.sql|file.yaml|file.json>")
			return commandError
		}
		return r.include(args[0])

	case "\\import":
		return r.importPostgres(args)

	case "\\status":
		r.printRows("Status", r.eng.System().GetStatistics())

	case "\\memory":
		r.printRows("Memory", r.eng.System().GetMemoryStats())

	case "\\metrics":
		fmt.Fprint(r.out, r.eng.System().PrometheusMetrics())

	case "\\config":
		r.printConfig()

	case "\\clear":
		fmt.Fprint(r.out, "\033[H\033[2J")

	default:
		fmt.Fprintf(r.out, "Unknown command: %s\n", cmd)
		fmt.Fprintln(r.out, "Type \\? for help")
		return commandError
	}
	return commandOK
}

// rank evaluates one hypothetical-set aggregate over a single-column group:
// \rank <aggregate> <type> <hypothetical> [group values...]
func (r *REPL) rank(args []string) commandResult {
	if len(args) < 3 {
		fmt.Fprintln(r.out, "Usage: \\rank <aggregate> <type> <value> [group values...]")
		return commandError
	}
	group, hyp, err := r.buildGroup(args[1], args[2], args[3:])
	if err != nil {
		r.printError(err)
		return commandError
	}
	v, err := r.eng.EvaluateHypothetical(context.Background(), r.role, args[0], group, []types.Value{hyp})
	if err != nil {
		r.printError(err)
		return commandError
	}
	fmt.Fprintf(r.out, "%s(%s) = %s\n", args[0], hyp.String(), titleStyle.Render(v.String()))
	return commandOK
}

// ranks prints every rank-family value for one hypothetical row:
// \ranks <type> <hypothetical> [group values...]
func (r *REPL) ranks(args []string) commandResult {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "Usage: \\ranks <type> <value> [group values...]")
		return commandError
	}
	group, hyp, err := r.buildGroup(args[0], args[1], args[2:])
	if err != nil {
		r.printError(err)
		return commandError
	}
	results, err := r.eng.EvaluatePartitions(context.Background(), []hypothetical.Task{{Group: group, Args: []types.Value{hyp}}})
	if err != nil {
		r.printError(err)
		return commandError
	}
	res := results[0]
	r.printRows("Hypothetical "+hyp.String(), []observability.SystemTableRow{{
		Columns: []string{"rank", "dense_rank", "percent_rank", "cume_dist"},
		Values: []interface{}{
			res.Rank, res.DenseRank,
			types.NewFloat8(res.PercentRank).String(),
			types.NewFloat8(res.CumeDist).String(),
		},
	}})
	return commandOK
}

func (r *REPL) buildGroup(typeName, hypText string, values []string) (*hypothetical.AggContext, types.Value, error) {
	reg := r.eng.Store().Types()
	t, err := reg.Lookup(typeName)
	if err != nil {
		return nil, types.Value{}, err
	}
	hyp, err := reg.Parse(t.ID, hypText)
	if err != nil {
		return nil, types.Value{}, err
	}
	group := hypothetical.NewAggContext(hypothetical.Asc(t.ID))
	for _, text := range values {
		for _, field := range strings.Split(text, ",") {
			if field = strings.TrimSpace(field); field == "" {
				continue
			}
			v, err := reg.Parse(t.ID, field)
			if err != nil {
				return nil, types.Value{}, err
			}
			if err := group.Add(v); err != nil {
				return nil, types.Value{}, err
			}
		}
	}
	return group, hyp, nil
}

func (r *REPL) switchRole(args []string) commandResult {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "Current role: %s\n", r.role)
		return commandOK
	}
	password := ""
	if len(args) > 1 {
		password = args[1]
	}
	if _, err := r.eng.Store().Roles().Authenticate(args[0], password); err != nil {
		r.printError(dberr.Permission("authentication failed for role %q", args[0]).Wrap(err))
		return commandError
	}
	r.role = args[0]
	r.log.Info("role switched", "role", r.role)
	fmt.Fprintln(r.out, okStyle.Render("SET ROLE "+r.role))
	return commandOK
}

func (r *REPL) include(path string) commandResult {
	ctx := context.Background()
	var (
		results []engine.Result
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		results, err = r.eng.LoadBundle(ctx, r.role, path)
	default:
		var data []byte
		data, err = os.ReadFile(path)
		if err == nil {
			results, err = r.eng.ExecDDL(ctx, r.role, string(data))
		}
	}
	for _, res := range results {
		r.printResult(res)
	}
	if err != nil {
		r.printError(err)
		return commandError
	}
	return commandOK
}

func (r *REPL) importPostgres(args []string) commandResult {
	dsn := r.config.Import.DSN
	if len(args) > 0 {
		dsn = args[0]
	}
	if dsn == "" {
		fmt.Fprintln(r.out, "Usage: \\import <dsn>  (or set import.dsn)")
		return commandError
	}
	report, err := r.eng.ImportFromPostgres(context.Background(), r.role, dsn, r.config.Import.Schemas, r.config.Import.Target)
	if err != nil {
		r.printError(err)
		return commandError
	}
	for _, name := range report.Imported {
		fmt.Fprintln(r.out, okStyle.Render("IMPORT "+name))
	}
	for name, cause := range report.Skipped {
		fmt.Fprintln(r.out, warnStyle.Render(fmt.Sprintf("SKIP %s: %v", name, cause)))
	}
	return commandOK
}

func (r *REPL) listNamespaces() {
	var rows []observability.SystemTableRow
	for _, ns := range r.eng.Store().Namespaces() {
		rows = append(rows, observability.SystemTableRow{
			Columns: []string{"name", "owner"},
			Values:  []interface{}{ns.Name, ns.Owner},
		})
	}
	r.printRows("List of schemas", rows)
}

func (r *REPL) listRoles() {
	roles := r.eng.Store().Roles()
	var rows []observability.SystemTableRow
	for _, name := range roles.ListRoles() {
		rows = append(rows, observability.SystemTableRow{
			Columns: []string{"role", "superuser"},
			Values:  []interface{}{name, roles.IsSuperuser(name)},
		})
	}
	r.printRows("List of roles", rows)
}

func filterRows(rows []observability.SystemTableRow, column string, patterns []string) []observability.SystemTableRow {
	if len(patterns) == 0 {
		return rows
	}
	var out []observability.SystemTableRow
	for _, row := range rows {
		for i, c := range row.Columns {
			if c == column && strings.Contains(fmt.Sprint(row.Values[i]), patterns[0]) {
				out = append(out, row)
			}
		}
	}
	return out
}

func (r *REPL) printRows(title string, rows []observability.SystemTableRow) {
	fmt.Fprintln(r.out, titleStyle.Render(title))
	if len(rows) == 0 {
		fmt.Fprintln(r.out, mutedStyle.Render("(0 rows)"))
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(rows[0].Columns...)
	for _, row := range rows {
		cells := make([]string, len(row.Values))
		for i, v := range row.Values {
			cells[i] = fmt.Sprint(v)
		}
		t.Row(cells...)
	}
	fmt.Fprintln(r.out, t.String())
	fmt.Fprintln(r.out, mutedStyle.Render(fmt.Sprintf("(%d rows)", len(rows))))
}

func (r *REPL) printResult(res engine.Result) {
	for _, w := range res.Warnings {
		fmt.Fprintln(r.out, warnStyle.Render("WARNING:  "+w))
	}
	fmt.Fprintln(r.out, okStyle.Render(res.Tag))
}

func (r *REPL) printError(err error) {
	var e *dberr.Error
	if errors.As(err, &e) {
		fmt.Fprintln(r.out, errorStyle.Render(fmt.Sprintf("ERROR:  %s (SQLSTATE %s)", err.Error(), e.Code)))
		return
	}
	fmt.Fprintln(r.out, errorStyle.Render("ERROR:  "+err.Error()))
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, titleStyle.Render("veridicalagg "+Version))
	fmt.Fprintln(r.out, mutedStyle.Render(fmt.Sprintf("Connected as %s. Type \\? for help.", r.role)))
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, `
veridicalagg Commands
=====================

SQL (end with ;):
  CREATE AGGREGATE name (args) (attr = value, ...)
  CREATE SCHEMA [IF NOT EXISTS] name
  CREATE ROLE name [PASSWORD 'pw'] [SUPERUSER]
  GRANT/REVOKE priv ON {TYPE|SCHEMA|FUNCTION} obj TO/FROM role

Backslash Commands:
  \da [pattern]                    List aggregates
  \df [schema]                     List functions
  \dd                              List dependencies
  \dn                              List schemas
  \du                              List roles
  \rank <agg> <type> <v> [g...]    Evaluate a hypothetical-set aggregate
  \ranks <type> <v> [g...]         Show rank, dense_rank, percent_rank, cume_dist
  \role [name [password]]          Show or switch the acting role
  \i <file>                        Run a .sql file or load a .yaml/.json bundle
  \import [dsn]                    Copy aggregates from PostgreSQL
  \status, \memory, \metrics       Statistics
  \locks, \txns                    Lock and transaction views
  \config                          Show configuration
  \clear                           Clear screen
  \?, \help                        Show this help
  \q, \quit                        Exit`)
}

func (r *REPL) printConfig() {
	fmt.Fprintln(r.out, titleStyle.Render("Current Configuration"))
	fmt.Fprintf(r.out, "Catalog:\n")
	fmt.Fprintf(r.out, "  Data Directory:   %s\n", r.config.Catalog.DataDir)
	fmt.Fprintf(r.out, "\nEngine:\n")
	fmt.Fprintf(r.out, "  Workers:          %d\n", r.config.Engine.Workers)
	fmt.Fprintf(r.out, "  Lock Timeout:     %d ms\n", r.config.Engine.LockTimeoutMs)
	fmt.Fprintf(r.out, "  Default Role:     %s\n", r.config.Engine.DefaultRole)
	fmt.Fprintf(r.out, "\nImport:\n")
	fmt.Fprintf(r.out, "  Schemas:          %s\n", strings.Join(r.config.Import.Schemas, ", "))
	fmt.Fprintf(r.out, "  Target:           %s\n", r.config.Import.Target)
	fmt.Fprintf(r.out, "\nLogging:\n")
	fmt.Fprintf(r.out, "  Level:            %s\n", r.config.Log.Level)
	fmt.Fprintf(r.out, "  Format:           %s\n", r.config.Log.Format)
	fmt.Fprintf(r.out, "  Output:           %s\n", r.config.Log.Output)
}

func getHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".veridicalagg_history")
}

// newCompleter creates an auto-completer for the REPL
func newCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("CREATE",
			readline.PcItem("AGGREGATE"),
			readline.PcItem("SCHEMA"),
			readline.PcItem("ROLE"),
		),
		readline.PcItem("GRANT"),
		readline.PcItem("REVOKE"),
		readline.PcItem("HELP"),
		readline.PcItem("EXIT"),
		readline.PcItem("\\da"),
		readline.PcItem("\\df"),
		readline.PcItem("\\dd"),
		readline.PcItem("\\dn"),
		readline.PcItem("\\du"),
		readline.PcItem("\\rank"),
		readline.PcItem("\\ranks"),
		readline.PcItem("\\role"),
		readline.PcItem("\\i"),
		readline.PcItem("\\import"),
		readline.PcItem("\\status"),
		readline.PcItem("\\metrics"),
		readline.PcItem("\\locks"),
		readline.PcItem("\\txns"),
		readline.PcItem("\\config"),
		readline.PcItem("\\clear"),
		readline.PcItem("\\help"),
		readline.PcItem("\\q"),
	)
}
