package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/systemstart/many-ci/pkg/api"
	"github.com/systemstart/many-ci/pkg/logging"
	"github.com/systemstart/many-ci/pkg/plan"
	"github.com/systemstart/many-ci/pkg/processing"
	"github.com/systemstart/many-ci/pkg/report"
	"github.com/systemstart/many-ci/pkg/steps"
)

var version = "dev"

const (
	_ = iota
	exitPipelineFailed
	exitInvalidWorkflow
	exitDotenvError
	exitLoggingSetupFailed
	exitWorkflowNotSpecified
	exitLoadWorkflowFailed
	exitLoadActionsFailed
	exitLoadEnvFileFailed
	exitInvalidReportFormat
	exitWriteReportFailed
	exitStatusServerFailed
)

var (
	workflowPath    string
	workflowPattern string
	maxDepth        int
	eventName       string
	branch          string
	workers         int
	failFast        bool
	timeout         time.Duration
	gracePeriod     time.Duration
	maxMatrix       int
	actionsFile     string
	envFile         string
	workDir         string
	reportPath      string
	reportFormat    string
	statusAddr      string
	dryRun          bool
	loggingType     string
	logLevel        string
	showVersion     bool
)

func init() {
	flag.StringVar(
		&workflowPath,
		"workflow",
		"",
		"workflow file, or a directory to discover workflows in")
	flag.StringVar(
		&workflowPattern,
		"workflow-pattern",
		processing.DefaultWorkflowPattern,
		"glob selecting workflow files when -workflow is a directory")
	flag.IntVar(
		&maxDepth,
		"max-depth",
		-1,
		"max directory recursion depth (-1 = unlimited, 0 = root only)")
	flag.StringVar(
		&eventName,
		"event",
		api.EventPush,
		"triggering event: push, pull_request or workflow_dispatch")
	flag.StringVar(
		&branch,
		"branch",
		"",
		"branch the event happened on")
	flag.IntVar(
		&workers,
		"workers",
		processing.DefaultWorkers,
		"maximum number of jobs running at once")
	flag.BoolVar(
		&failFast,
		"fail-fast",
		false,
		"cancel remaining jobs after the first required job fails")
	flag.DurationVar(
		&timeout,
		"timeout",
		0,
		"overall pipeline timeout (0 = none)")
	flag.DurationVar(
		&gracePeriod,
		"grace-period",
		processing.DefaultGracePeriod,
		"time a cancelled job gets to stop before it is abandoned")
	flag.IntVar(
		&maxMatrix,
		"max-matrix",
		plan.DefaultMaxMatrix,
		"maximum number of instances one matrix job may expand into")
	flag.StringVar(
		&actionsFile,
		"actions-file",
		"",
		"YAML file registering actions for uses steps")
	flag.StringVar(
		&envFile,
		"env-file",
		"",
		"dotenv file layered over the workflow env")
	flag.StringVar(
		&workDir,
		"work-dir",
		"",
		"directory steps run in (default: current directory)")
	flag.StringVar(
		&reportPath,
		"report",
		"",
		"write the run result to this file (- for stdout)")
	flag.StringVar(
		&reportFormat,
		"report-format",
		string(report.FormatJSON),
		"report format: json or yaml")
	flag.StringVar(
		&statusAddr,
		"status-addr",
		"",
		"serve live run status over HTTP on this address")
	flag.BoolVar(
		&dryRun,
		"dry-run",
		false,
		"schedule and evaluate everything but do not execute steps")
	flag.StringVar(
		&loggingType,
		"logging-type",
		"tint",
		"logging type: json, text or tint")
	flag.StringVar(
		&logLevel,
		"log-level",
		"info",
		"logging level: debug, info, warn, error")
	flag.BoolVar(
		&showVersion,
		"version",
		false,
		"print version and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := logging.Initialize(os.Stderr, loggingType, logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitLoggingSetupFailed)
	}

	includeEnv()

	if workflowPath == "" {
		slog.Error("-workflow not set")
		os.Exit(exitWorkflowNotSpecified)
	}
	format, err := report.ParseFormat(reportFormat)
	if err != nil {
		slog.Error("invalid report format", "error", err)
		os.Exit(exitInvalidReportFormat)
	}

	workflows := loadWorkflows()
	runs := prepareRuns(workflows, buildOptions())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var live liveStatus
	if statusAddr != "" {
		serveStatus(ctx, &live)
	}

	code := 0
	for _, rc := range runs {
		live.current.Store(rc.Aggregator())
		result := rc.Run(ctx)
		if err := report.Summary(os.Stderr, result); err != nil {
			slog.Warn("failed to print summary", "error", err)
		}
		writeReport(result, rc.Workflow, format, len(runs) > 1)
		if result.Outcome != report.OutcomeSuccess {
			code = exitPipelineFailed
		}
	}

	slog.Info("done")
	stop()
	os.Exit(code)
}

func loadWorkflows() []*api.Workflow {
	paths, err := processing.DiscoverWorkflows(workflowPath, workflowPattern, maxDepth)
	if err != nil {
		slog.Error("failed to find workflows", "path", workflowPath, "error", err)
		os.Exit(exitLoadWorkflowFailed)
	}
	if len(paths) == 0 {
		slog.Error("no workflows found", "path", workflowPath, "pattern", workflowPattern)
		os.Exit(exitLoadWorkflowFailed)
	}

	workflows, err := processing.LoadAll(paths)
	if err != nil {
		slog.Error("failed to load workflow", "error", err)
		if errors.Is(err, api.ErrDocument) {
			os.Exit(exitInvalidWorkflow)
		}
		os.Exit(exitLoadWorkflowFailed)
	}
	return workflows
}

func buildOptions() processing.Options {
	opts := processing.Options{
		Event:       eventName,
		Branch:      branch,
		Workers:     workers,
		FailFast:    failFast,
		Timeout:     timeout,
		GracePeriod: gracePeriod,
		MaxMatrix:   maxMatrix,
		Executor:    buildExecutor(),
		Logger:      slog.Default(),
	}

	if envFile != "" {
		env, err := processing.LoadEnvFile(envFile)
		if err != nil {
			slog.Error("failed to load env file", "filename", envFile, "error", err)
			os.Exit(exitLoadEnvFileFailed)
		}
		opts.Env = env
	}
	return opts
}

func buildExecutor() steps.Executor {
	if dryRun {
		return steps.DryRunExecutor{}
	}

	shell := steps.NewShellExecutor(workDir, gracePeriod)
	if actionsFile == "" {
		return steps.NewExecutor(shell, nil)
	}

	cfg, err := api.LoadActions(actionsFile)
	if err != nil {
		slog.Error("failed to load actions", "filename", actionsFile, "error", err)
		os.Exit(exitLoadActionsFailed)
	}
	registry, err := steps.NewActionRegistry(cfg)
	if err != nil {
		slog.Error("failed to register actions", "filename", actionsFile, "error", err)
		os.Exit(exitLoadActionsFailed)
	}
	slog.Debug("actions registered", "actions", registry.Names())
	return steps.NewExecutor(shell, &steps.ActionExecutor{Registry: registry, Shell: shell})
}

// prepareRuns builds every plan up front: a graph error in any workflow
// exits before the first one runs.
func prepareRuns(workflows []*api.Workflow, opts processing.Options) []*processing.RunContext {
	runs, err := processing.PrepareAll(workflows, opts)
	if err != nil {
		slog.Error("invalid job graph", "error", err)
		if errors.Is(err, plan.ErrGraph) {
			os.Exit(exitInvalidWorkflow)
		}
		os.Exit(exitLoadWorkflowFailed)
	}
	if dryRun {
		for _, rc := range runs {
			slog.Info("dry run plan", "workflow", rc.Workflow.FilePath, "order", rc.Order())
		}
	}
	return runs
}

// reportFile inserts the workflow's file name when several workflows share
// one report path: report.json becomes report-ci.json.
func reportFile(path string, wf *api.Workflow, several bool) string {
	if !several || path == "-" {
		return path
	}
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(wf.FilePath), filepath.Ext(wf.FilePath))
	return strings.TrimSuffix(path, ext) + "-" + name + ext
}

func writeReport(result report.RunResult, wf *api.Workflow, format report.Format, several bool) {
	if reportPath == "" {
		return
	}
	path := reportFile(reportPath, wf, several)
	if err := report.WriteFile(path, result, format); err != nil {
		slog.Error("failed to write report", "filename", path, "error", err)
		os.Exit(exitWriteReportFailed)
	}
	slog.Info("report written", "filename", path)
}

func includeEnv() {
	err := godotenv.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to load .env", "error", err)
			os.Exit(exitDotenvError)
		}
		slog.Debug("no .env file found")
	} else {
		slog.Info("using .env file")
	}
}
