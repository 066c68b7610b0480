package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caffeineduck/newstate/executor"
	"github.com/caffeineduck/newstate/sandbox"
	"github.com/caffeineduck/newstate/transfer"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)
  - Expressions print their values: 1 + 1 prints 2

Meta commands:
  :load FILE          pin FILE as the entry point
  :run [ARGS...]      call the entry point; ARGS are JSON values
  :gc OPTION [N...]   control the collector (collect, count, setpause, ...)
  :help               show this list

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().Bool("kv", false, "Enable key-value store")
	replCmd.Flags().String("history", "", "History file path (default: ~/.newstate_history)")
	rootCmd.AddCommand(replCmd)
}

const replHelp = `:load FILE          pin FILE as the entry point
:run [ARGS...]      call the entry point; ARGS are JSON values
:gc OPTION [N...]   control the collector
:help               show this list
`

// repl evaluates lines against one session.
type repl struct {
	session *executor.Session
	out     io.Writer
	errOut  io.Writer
}

func (r *repl) eval(ctx context.Context, line string) {
	if strings.HasPrefix(line, ":") {
		r.meta(ctx, line)
		return
	}

	// try the line as an expression first, as lua.c does
	result := r.session.Do(ctx, "return "+line)
	if sandbox.StatusOf(result.Error) == sandbox.StatusErrSyntax {
		result = r.session.Do(ctx, line)
	}
	r.print(result)
}

func (r *repl) meta(ctx context.Context, line string) {
	fields := strings.Fields(line)
	cmd, rest := fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch cmd {
	case ":load":
		if rest == "" {
			fmt.Fprintln(r.errOut, "Error: usage :load FILE")
			return
		}
		if err := r.session.LoadFile(rest); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
		}

	case ":run":
		args, err := parseJSONValues(rest)
		if err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return
		}
		r.print(r.session.Run(ctx, args...))

	case ":gc":
		if len(fields) < 2 {
			fmt.Fprintln(r.errOut, "Error: usage :gc OPTION [N...]")
			return
		}
		what, ok := sandbox.ParseGCOption(strings.ToLower(fields[1]))
		if !ok {
			fmt.Fprintf(r.errOut, "Error: unknown gc option %q\n", fields[1])
			return
		}
		nums := make([]int, 0, len(fields)-2)
		for _, f := range fields[2:] {
			n, err := strconv.Atoi(f)
			if err != nil {
				fmt.Fprintf(r.errOut, "Error: %q is not an integer\n", f)
				return
			}
			nums = append(nums, n)
		}
		n, err := r.session.Collect(what, nums...)
		if err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(r.out, n)

	case ":help":
		fmt.Fprint(r.out, replHelp)

	default:
		fmt.Fprintf(r.errOut, "Error: unknown command %s (try :help)\n", cmd)
	}
}

func (r *repl) print(result executor.Result) {
	if result.Error != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", result.Error)
		return
	}
	if len(result.Values) == 0 {
		return
	}
	parts := make([]string, len(result.Values))
	for i, v := range result.Values {
		parts[i] = display(v)
	}
	fmt.Fprintln(r.out, strings.Join(parts, "\t"))
}

func display(v transfer.Value) string {
	if s, ok := v.(transfer.String); ok {
		return strconv.Quote(string(s))
	}
	if v == nil {
		return "nil"
	}
	return v.String()
}

func runRepl(cmd *cobra.Command, args []string) error {
	enableKV, _ := cmd.Flags().GetBool("kv")
	historyFile, _ := cmd.Flags().GetString("history")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".newstate_history")
	}

	exec, err := newExecutor(nil)
	if err != nil {
		return err
	}
	defer exec.Close()

	// the REPL is interactive, so calls are not bounded by default
	sessionOpts := []executor.SessionOption{executor.WithSessionTimeout(0)}
	if enableKV || cfg.Exec.KV {
		sessionOpts = append(sessionOpts, executor.WithSessionKV(kvConfigFrom(cfg.Exec)))
	}

	session, err := exec.NewSession(sessionOpts...)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer session.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(os.Stderr, "newstate Lua REPL (type 'exit' to quit, :help for commands)")

	r := &repl{session: session, out: rl.Stdout(), errOut: rl.Stderr()}

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt("> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		// Handle multi-line input
		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt(">> ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt("> ")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		// Ctrl+C interrupts the running call, not the REPL
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		r.eval(ctx, line)
		stop()
	}
}
