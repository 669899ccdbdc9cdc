package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vigilops/vigil/pkg/audit"
	"github.com/vigilops/vigil/pkg/audit/apache"
	"github.com/vigilops/vigil/pkg/audit/system"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	reportsDir       string
	auditLogFile     string
	apacheConfigFile string
)

// newAuditCmd defines the audit subcommand with one target per audit module
func newAuditCmd() *cobra.Command {
	c := &cobra.Command{
		Use:       "audit {system|apache|all}",
		Short:     "Audit the host and write a JSON report",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"system", "apache", "all"},
		RunE:      func(cmd *cobra.Command, args []string) error { return runAudit(args[0]) },
	}
	c.Flags().StringVar(&reportsDir, "reports-dir", "audits", "directory for JSON reports")
	c.Flags().StringVar(&auditLogFile, "log-file", "audit.log", "mirror logs to this file, empty to disable")
	c.Flags().StringVar(&apacheConfigFile, "apache-config", apache.DefaultConfigFile, "apache config file to scan")
	return c
}

func runAudit(target string) error {
	if version {
		fmt.Fprintf(os.Stderr, "%s\n", BUILD)
		return nil
	}

	logger := newAuditLogger()
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx := context.Background()
	writer := audit.NewWriter(reportsDir)

	if target == "system" || target == "all" {
		auditor := system.New()
		report, err := auditor.Audit(ctx)
		if err != nil {
			return fmt.Errorf("system audit: %w", err)
		}
		path, err := writer.Write(report.Metadata, report)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", path)
	}

	if target == "apache" || target == "all" {
		auditor := apache.New()
		auditor.ConfigFile = apacheConfigFile
		report, err := auditor.Audit(ctx)
		if err != nil {
			return fmt.Errorf("apache audit: %w", err)
		}
		path, err := writer.Write(report.Metadata, report)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", path)
	}

	return nil
}

// newAuditLogger tees the console logger to a log file so audit runs
// leave a trail next to the reports
func newAuditLogger() *zap.Logger {
	console := newLogger()
	if auditLogFile == "" {
		return console
	}
	f, err := os.OpenFile(auditLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		console.Warn("audit log file not writable", zap.String("path", auditLogFile), zap.Error(err))
		return console
	}
	enabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return debug || lvl != zapcore.DebugLevel })
	fileCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()),
		zapcore.Lock(f),
		enabler,
	)
	return console.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}
