package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ormasoftchile/radproof/pkg/runtime"
	"github.com/ormasoftchile/radproof/pkg/schema"
	"github.com/ormasoftchile/radproof/pkg/serve"
	"github.com/ormasoftchile/radproof/pkg/store"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets
// any variables that aren't already set in the environment.
// Lines are KEY=VALUE (or KEY="VALUE"). Comments (#) and blanks are skipped.
// The .env file is gitignored so credentials never end up in source control.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "radproof",
	Short: "Scenario execution engine for AAA test automation",
	Long:  "radproof — runs ordered scenario steps (RADIUS, SQL, shell preambles, HTTP, delays, loops, conditionals) against configured targets, producing an ordered log trail and one aggregated verdict per run.",
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [scenario.yaml]",
	Short: "Validate a scenario YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, errs := schema.ValidateFile(args[0])
	if len(errs) > 0 {
		var errors, warnings []*schema.ValidationError
		for _, e := range errs {
			if e.Severity == "warning" {
				warnings = append(warnings, e)
			} else {
				errors = append(errors, e)
			}
		}
		for _, w := range warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		if len(errors) > 0 {
			for _, e := range errors {
				fmt.Printf("  error: %s\n", e)
			}
			return fmt.Errorf("%d validation error(s)", len(errors))
		}
	}
	fmt.Printf("✓ %s is valid\n", args[0])
	return nil
}

// --- exec ---

var (
	execTarget    string
	execDBPath    string
	execArtifacts string
)

var execCmd = &cobra.Command{
	Use:   "exec [scenario.yaml]",
	Short: "Execute a scenario against a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	sc, errs := schema.ValidateFile(args[0])
	for _, e := range errs {
		if e.Severity != "warning" {
			return fmt.Errorf("scenario invalid: %w", e)
		}
	}

	target, err := schema.LoadTargetFile(execTarget)
	if err != nil {
		return err
	}

	var sinks []runtime.LogSink
	mem := &runtime.MemorySink{}
	sinks = append(sinks, mem)

	var st *store.Store
	if execDBPath != "" {
		st, err = store.Open(execDBPath)
		if err != nil {
			return err
		}
		defer st.Close()
		sinks = append(sinks, st)
	}

	orch := runtime.NewOrchestrator(sc, target, serve.DefaultSessions(target), sinks...)
	if execArtifacts != "" {
		orch.BaseDir = filepath.Join(execArtifacts, orch.ExecutionID())
	}

	if st != nil {
		if err := st.CreateExecution(orch.Record); err != nil {
			return err
		}
	}

	// Ctrl-C aborts at the next step boundary; teardown still runs.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := orch.Run(ctx)

	if st != nil && result != nil {
		if err := st.SaveResult(orch.ExecutionID(), result); err != nil {
			fmt.Fprintf(os.Stderr, "warning: save result: %v\n", err)
		}
		if err := st.FinishExecution(orch.Record); err != nil {
			fmt.Fprintf(os.Stderr, "warning: finish execution: %v\n", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	fmt.Printf("\nResult: %s (latency %dms)\n", result.Status, result.LatencyMS)
	for _, e := range mem.Entries(0) {
		fmt.Printf("  %s [%s] %s\n", e.Timestamp.Format("15:04:05.000"), e.Level, e.Message)
	}
	if result.Status == runtime.ResultFail {
		os.Exit(1)
	}
	return nil
}

// --- logs ---

var logsDBPath string

var logsCmd = &cobra.Command{
	Use:   "logs [execution-id]",
	Short: "Print the ordered log stream of an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(logsDBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.Logs(args[0], 0)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s [%s] %s\n", e.Timestamp.Format("2006-01-02T15:04:05.000"), e.Level, e.Message)
		}
		return nil
	},
}

// --- results ---

var resultsDBPath string

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List recent test results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(resultsDBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		results, err := st.ListResults(50)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%-8s %-30s %-12s %6dms  %s  exec=%s\n",
				r.Status, r.ScenarioName, r.Target, r.LatencyMS,
				r.Timestamp.Format("2006-01-02T15:04:05"), r.Details["executionId"])
		}
		return nil
	},
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the scenario JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("radproof %s (%s)\n", version, commit)
	},
}

func init() {
	execCmd.Flags().StringVar(&execTarget, "target", "", "target YAML file (required)")
	execCmd.MarkFlagRequired("target")
	execCmd.Flags().StringVar(&execDBPath, "db", "", "persist execution, logs and result to this SQLite database")
	execCmd.Flags().StringVar(&execArtifacts, "artifacts", ".radproof/runs", "directory for per-run trace artifacts")

	logsCmd.Flags().StringVar(&logsDBPath, "db", "radproof.db", "SQLite database path")
	resultsCmd.Flags().StringVar(&resultsDBPath, "db", "radproof.db", "SQLite database path")

	rootCmd.AddCommand(validateCmd, execCmd, logsCmd, resultsCmd, schemaCmd, versionCmd)
}
