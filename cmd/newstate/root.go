package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caffeineduck/newstate/codec"
	"github.com/caffeineduck/newstate/executor"
	"github.com/caffeineduck/newstate/hostfunc"
	"github.com/caffeineduck/newstate/internal/config"
	"github.com/caffeineduck/newstate/internal/logging"
	"github.com/caffeineduck/newstate/sandbox"
	"github.com/caffeineduck/newstate/transfer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "newstate [file]",
	Short: "Isolated Lua sandboxes with explicit value exchange",
	Long: `newstate - Run untrusted Lua code in isolated sandboxes.

Run code from files, inline strings, or stdin. Arguments and results cross
the sandbox boundary as copies: nil, booleans, numbers, strings and tables.
By default, sandboxed code has no access to the network or host storage.
Enable capabilities explicitly with flags.`,
	Args:              cobra.MaximumNArgs(1),
	RunE:              runRun, // Default to run command behavior
	PersistentPreRunE: setup,
	SilenceUsage:      true,
}

// Loaded by setup before any command runs.
var (
	cfg    = config.Default()
	logger = zap.NewNop()
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-dev", false, "Human readable development logging")
	rootCmd.PersistentFlags().Bool("no-openlibs", false, "Start sandboxes without the standard libraries")

	// Add run-specific flags to root (for default command)
	addRunFlags(rootCmd)
}

// setup loads configuration and builds the logger. Flags that were set
// explicitly win over the file and the environment.
func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg = loaded

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-dev") {
		cfg.Log.Development, _ = cmd.Flags().GetBool("log-dev")
	}
	if cmd.Flags().Changed("no-openlibs") {
		noLibs, _ := cmd.Flags().GetBool("no-openlibs")
		cfg.Sandbox.OpenLibs = !noLibs
	}

	l, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logger = l
	return nil
}

func sandboxOptions(c config.SandboxConfig) []sandbox.Option {
	return []sandbox.Option{
		sandbox.WithOpenLibs(c.OpenLibs),
		sandbox.WithMaxDepth(c.MaxDepth),
		sandbox.WithCallStackSize(c.CallStackSize),
		sandbox.WithRegistrySize(c.RegistrySize),
		sandbox.WithRegistryMaxSize(c.RegistryMaxSize),
	}
}

func newExecutor(rec executor.Recorder) (*executor.Executor, error) {
	opts := []executor.ExecutorOption{
		executor.WithSandboxOptions(sandboxOptions(cfg.Sandbox)...),
		executor.WithLogger(logger),
	}
	if rec != nil {
		opts = append(opts, executor.WithRecorder(rec))
	}
	return executor.New(nil, opts...)
}

func kvConfigFrom(c config.ExecConfig) hostfunc.KVConfig {
	return hostfunc.KVConfig{
		MaxKeySize:   c.KVMaxKeySize,
		MaxValueSize: c.KVMaxValueSize,
		MaxEntries:   c.KVMaxEntries,
	}
}

// parseArgs converts --arg values, each one JSON document.
func parseArgs(raw []string) ([]transfer.Value, error) {
	vals := make([]transfer.Value, 0, len(raw))
	for _, r := range raw {
		v, err := codec.ParseJSON([]byte(r))
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", r, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// parseJSONValues reads a whitespace separated sequence of JSON values.
// Unlike a JSON array, a null keeps its position.
func parseJSONValues(text string) ([]transfer.Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	var vals []transfer.Value
	for {
		var j any
		err := dec.Decode(&j)
		if errors.Is(err, io.EOF) {
			return vals, nil
		}
		if err != nil {
			return nil, fmt.Errorf("arguments: %w", err)
		}
		v, err := codec.FromJSON(j)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
}

// writeValues prints one JSON document per value, or a single CBOR array.
func writeValues(w io.Writer, vals []transfer.Value, asCBOR bool) error {
	if asCBOR {
		data, err := codec.MarshalValues(vals)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	enc := json.NewEncoder(w)
	for _, v := range vals {
		j, err := codec.ToJSON(v)
		if err != nil {
			return err
		}
		if err := enc.Encode(j); err != nil {
			return err
		}
	}
	return nil
}
