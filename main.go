// Package main contains the cli implementation of factum. It uses the cobra
// package for commands and viper to layer flags and FACTUM_* environment
// variables over the project configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"factum/internal/config"
	"factum/internal/driver"
	"factum/internal/engine"
	"factum/internal/fact"
	"factum/internal/fault"
	"factum/internal/mangle"
	"factum/internal/output"
)

// Exit codes by error kind.
const (
	exitFailure    = 1
	exitValidation = 2
	exitSchema     = 3
	exitConnection = 4
)

func printInfo(format string, msg string) {
	if strings.EqualFold(strings.TrimSpace(format), string(output.FormatJSON)) {
		_, _ = fmt.Fprintln(os.Stderr, msg)
		return
	}
	fmt.Println(msg)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := fault.AsValidation(err); ok {
		return exitValidation
	}
	if _, ok := fault.AsSchema(err); ok {
		return exitSchema
	}
	if _, ok := fault.AsConnection(err); ok {
		return exitConnection
	}
	return exitFailure
}

func main() {
	v := viper.New()
	v.SetEnvPrefix("FACTUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfgFile string
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "factum",
		Short:         "Declarative schema reconciliation for PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(cfgFile); err != nil {
				return err
			}
			if err := cfg.Merge(v); err != nil {
				return err
			}
			return errors.Annotate(loggo.ConfigureLoggers(cfg.Log.Level), "log.level")
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Configuration file (default ./"+config.DefaultFile+" when present)")
	flags.String("database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flags.String("schema", "", "Target schema")
	flags.Int("max-identifier-length", 0, "Length budget of synthesized identifiers")
	flags.Bool("forbid-destructive", false, "Reject statements that drop tables or columns or delete rows")
	flags.String("work-dir", "", "Directory relative fact document paths resolve against")
	flags.String("log-level", "", `Logging specification, e.g. "<root>=INFO;factum.driver=DEBUG"`)
	for key, flag := range map[string]string{
		"database.url":                 "database-url",
		"database.schema":              "schema",
		"engine.max_identifier_length": "max-identifier-length",
		"engine.forbid_destructive":    "forbid-destructive",
		"engine.work_dir":              "work-dir",
		"log.level":                    "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	var format string
	var outFile string
	var timeout int
	var progress bool

	// run builds the document before connecting, then deploys it in mode.
	run := func(cmd *cobra.Command, path string, mode output.Mode) error {
		opts := engine.Options{
			DryRun:  mode == output.ModeDryRun,
			Locked:  mode == output.ModeCheck,
			WorkDir: cfg.Engine.WorkDir,
		}
		facts, err := engine.Build(path, mangle.New(cfg.Engine.MaxIdentifierLength), opts)
		if err != nil {
			return report(&output.Report{Mode: mode, Err: err}, format, outFile)
		}
		if cfg.Database.URL == "" {
			return errors.NotValidf("no database URL; set database.url, DATABASE_URL or --database-url")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeout)*time.Second)
		defer cancel()
		drv, err := driver.Open(ctx, cfg.Database.URL, cfg.DriverOptions())
		if err != nil {
			return report(&output.Report{Mode: mode, Err: err}, format, outFile)
		}
		defer func() {
			if err := drv.Close(); err != nil {
				printInfo(format, fmt.Sprintf("Failed to close database connection: %v", err))
			}
		}()

		if progress && !strings.EqualFold(format, string(output.FormatJSON)) {
			var current atomic.Value
			current.Store("")
			uiprogress.Start()
			bar := uiprogress.AddBar(len(facts)).AppendCompleted().PrependElapsed()
			bar.PrependFunc(func(b *uiprogress.Bar) string {
				return fmt.Sprintf("%-32.32s", current.Load())
			})
			opts.OnFact = func(f fact.Fact) {
				current.Store(f.Describe())
				bar.Incr()
			}
			defer uiprogress.Stop()
		}

		log, err := engine.Deploy(ctx, drv, facts, opts)
		return report(&output.Report{Mode: mode, Entries: log, Err: err}, format, outFile)
	}

	deployCmd := &cobra.Command{
		Use:   "deploy <facts.yaml>",
		Short: "Converge the database schema to a fact document",
		Long: `Deploy applies every fact of the document, and of the documents it
includes, inside one transaction. The transaction is committed only when all
facts succeed.

Examples:
  factum deploy schema.yaml
  factum deploy schema.yaml --dry-run --format summary
  factum deploy schema.yaml --database-url postgres://localhost/app --schema app`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			mode := output.ModeDeploy
			if dryRun {
				mode = output.ModeDryRun
			}
			return run(cmd, args[0], mode)
		},
	}
	deployCmd.Flags().BoolP("dry-run", "d", false, "Apply and roll back, printing the statements that would run")

	checkCmd := &cobra.Command{
		Use:   "check <facts.yaml>",
		Short: "Verify that the database matches a fact document",
		Long: `Check applies the document in locked mode: no statement is submitted and
any difference between the declared and the live schema is reported with the
offending fact and its document location.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], output.ModeCheck)
		},
	}

	for _, c := range []*cobra.Command{deployCmd, checkCmd} {
		c.Flags().StringVarP(&format, "format", "f", "", "Output format: sql, json or summary")
		c.Flags().StringVarP(&outFile, "output", "o", "", "Output file for the report")
		c.Flags().IntVar(&timeout, "timeout", 300, "Run timeout in seconds")
		c.Flags().BoolVar(&progress, "progress", false, "Show a progress bar over applied facts")
	}

	var extractOut string
	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Write a fact document reproducing the live schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Database.URL == "" {
				return errors.NotValidf("no database URL; set database.url, DATABASE_URL or --database-url")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeout)*time.Second)
			defer cancel()
			drv, err := driver.Open(ctx, cfg.Database.URL, cfg.DriverOptions())
			if err != nil {
				return err
			}
			defer func() { _ = drv.Close() }()

			doc, err := engine.Extract(ctx, drv)
			if err != nil {
				return err
			}
			if extractOut == "" {
				_, err = os.Stdout.Write(doc)
				return err
			}
			if err := os.WriteFile(extractOut, doc, 0644); err != nil {
				return errors.Annotate(err, "failed to write output")
			}
			printInfo("", fmt.Sprintf("Facts saved to %s", extractOut))
			return nil
		},
	}
	extractCmd.Flags().StringVarP(&extractOut, "output", "o", "", "Output file for the fact document")
	extractCmd.Flags().IntVar(&timeout, "timeout", 300, "Run timeout in seconds")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(extractCmd)

	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errReported) {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(exitCode(err))
}

// errReported marks an error already written as part of a report.
var errReported = errors.New("reported")

// reportedError keeps the run's error for the exit code after the report
// has shown it.
type reportedError struct{ err error }

func (e *reportedError) Error() string        { return e.err.Error() }
func (e *reportedError) Unwrap() error        { return e.err }
func (e *reportedError) Is(target error) bool { return target == errReported }

// report writes r and returns its error.
func report(r *output.Report, format, outFile string) error {
	formatter, err := output.NewFormatter(format)
	if err != nil {
		return err
	}
	formatted, err := formatter.FormatReport(r)
	if err != nil {
		return errors.Annotate(err, "failed to format output")
	}
	if outFile == "" {
		fmt.Print(formatted)
	} else {
		if err := os.WriteFile(outFile, []byte(formatted), 0644); err != nil {
			return errors.Annotate(err, "failed to write output")
		}
		printInfo(format, fmt.Sprintf("Output saved to %s", outFile))
	}
	if r.Err == nil {
		return nil
	}
	return &reportedError{err: r.Err}
}
