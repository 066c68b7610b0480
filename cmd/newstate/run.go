package main

import (
	"fmt"
	"io"
	"os"

	"github.com/caffeineduck/newstate/executor"
	"github.com/caffeineduck/newstate/hostfunc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run code (stateless execution)",
	Long: `Load Lua code into a fresh sandbox and call it once.

Code can be provided via:
  - File argument: newstate run script.lua
  - Inline flag: newstate run -c 'return 1 + 1'
  - Stdin: echo 'return 1 + 1' | newstate run

Arguments are JSON values and reach the code as '...':
  newstate run -c 'local a, b = ... return a + b' --arg 1 --arg 2

Results are printed one JSON value per line, or as a CBOR array with --cbor.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().StringArray("arg", nil, "Argument as a JSON value (repeatable)")
	cmd.Flags().Bool("cbor", false, "Write results as a CBOR array")
	addSessionFlags(cmd)
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", executor.DefaultTimeout, "Execution timeout")
	cmd.Flags().Bool("kv", false, "Enable key-value store")
	cmd.Flags().StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")

	// Security limits
	cmd.Flags().Int("http-max-url", hostfunc.DefaultMaxURLLength, "Max HTTP URL length")
	cmd.Flags().Int64("http-max-body", hostfunc.DefaultMaxBodySize, "Max HTTP response body size")
	cmd.Flags().Duration("http-timeout", hostfunc.DefaultRequestTimeout, "HTTP request timeout")
	cmd.Flags().Int("kv-max-entries", hostfunc.DefaultMaxEntries, "Max KV store entries")
}

// buildSessionOpts merges the configuration with the flags that were set.
func buildSessionOpts(cmd *cobra.Command) []executor.SessionOption {
	timeout := cfg.Exec.Timeout
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	enableKV := cfg.Exec.KV
	if cmd.Flags().Changed("kv") {
		enableKV, _ = cmd.Flags().GetBool("kv")
	}
	allowedHosts := cfg.Exec.AllowedHosts
	if cmd.Flags().Changed("allow-host") {
		allowedHosts, _ = cmd.Flags().GetStringSlice("allow-host")
	}

	httpMaxURL, _ := cmd.Flags().GetInt("http-max-url")
	httpMaxBody, _ := cmd.Flags().GetInt64("http-max-body")
	httpTimeout := cfg.Exec.HTTPTimeout
	if httpTimeout == 0 || cmd.Flags().Changed("http-timeout") {
		httpTimeout, _ = cmd.Flags().GetDuration("http-timeout")
	}

	var opts []executor.SessionOption
	opts = append(opts, executor.WithSessionTimeout(timeout))

	if enableKV {
		kvCfg := kvConfigFrom(cfg.Exec)
		if cmd.Flags().Changed("kv-max-entries") {
			kvCfg.MaxEntries, _ = cmd.Flags().GetInt("kv-max-entries")
		}
		opts = append(opts, executor.WithSessionKV(kvCfg))
	}
	if len(allowedHosts) > 0 {
		opts = append(opts, executor.WithSessionAllowedHosts(allowedHosts))
		opts = append(opts, executor.WithSessionHTTPMaxURLLength(httpMaxURL))
		opts = append(opts, executor.WithSessionHTTPMaxBodySize(httpMaxBody))
		opts = append(opts, executor.WithSessionHTTPTimeout(httpTimeout))
	}
	return opts
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	rawArgs, _ := cmd.Flags().GetStringArray("arg")
	asCBOR, _ := cmd.Flags().GetBool("cbor")

	vals, err := parseArgs(rawArgs)
	if err != nil {
		return err
	}

	var source string
	switch {
	case code != "":
		source = code
	case len(args) > 0:
		// loaded by path below so errors name the file
	default:
		// Check if stdin has data (not a terminal)
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok {
			stat, _ := f.Stat()
			if stat != nil && (stat.Mode()&os.ModeCharDevice) != 0 {
				// No piped input, show help
				return cmd.Help()
			}
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return cmd.Help()
		}
		source = string(data)
	}

	exec, err := newExecutor(nil)
	if err != nil {
		return err
	}
	defer exec.Close()

	session, err := exec.NewSession(buildSessionOpts(cmd)...)
	if err != nil {
		return err
	}
	defer session.Close()

	if source != "" {
		err = session.Load(source)
	} else {
		err = session.LoadFile(args[0])
	}
	if err != nil {
		return err
	}

	result := session.Run(cmd.Context(), vals...)
	logger.Debug("run finished", zap.Duration("duration", result.Duration), zap.Error(result.Error))
	if result.Error != nil {
		return result.Error
	}
	if err := writeValues(cmd.OutOrStdout(), result.Values, asCBOR); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
