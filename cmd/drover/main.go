package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/log"
	"github.com/droverhq/drover/internal/predict"
	"github.com/droverhq/drover/internal/process"
	"github.com/droverhq/drover/internal/queue"
	"github.com/droverhq/drover/internal/server"
	"github.com/droverhq/drover/internal/session"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/timing"
	"github.com/droverhq/drover/internal/tui/watch"
	"github.com/droverhq/drover/internal/worker"
	"github.com/droverhq/drover/internal/workspace"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "worker":
		return runWorker(args)
	case "enqueue":
		return runEnqueue(args)
	case "task":
		return runTask(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion()
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`drover - execution service with adaptive timeout prediction

Usage:
  drover <command> [flags]

Commands:
  serve      Start the WebSocket execution service in the foreground
  worker     Start a queue-consumer worker in the foreground
  enqueue    Submit a command to the task queue via the API
  task       Show a queued task and its result
  watch      Real-time monitoring TUI
  version    Show version information
  help       Show this help message

Use 'drover <command> --help' for command-specific flags.
`)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.FromEnv(), nil
	}
	return config.Load(configPath)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("drover starting", "version", version, "listen", cfg.Server.Listen)

	ctx, cancel := signalContext()
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	hub := events.NewHub(256)
	store := timing.NewStore(db, timing.Options{
		TTL: cfg.Predict.HistoryTTL,
		Cap: cfg.Predict.HistoryCap,
	})
	predictor := predict.New(store, cfg.Predict)
	sessions := session.NewManager(cfg, predictor, store, process.New(cfg.Process), hub)

	srv := server.New(cfg, sessions, queue.New(db), hub)
	if err := srv.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("server failed", "error", err)
		return 1
	}

	logger.Info("drover stopped")
	return 0
}

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional)")
	workerID := fs.String("id", "", "Worker identity (default: derived from hostname and pid)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")

	ctx, cancel := signalContext()
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()

	wsManager, err := workspace.NewManager(cfg.Worker.WorkspaceDir)
	if err != nil {
		logger.Error("failed to initialize workspace manager", "base_dir", cfg.Worker.WorkspaceDir, "error", err)
		return 1
	}

	hub := events.NewHub(256)
	store := timing.NewStore(db, timing.Options{
		TTL: cfg.Predict.HistoryTTL,
		Cap: cfg.Predict.HistoryCap,
	})
	predictor := predict.New(store, cfg.Predict)

	w := worker.New(*workerID, queue.New(db), wsManager, predictor, store, process.New(cfg.Process), hub, cfg)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker failed", "error", err)
		return 1
	}

	logger.Info("worker stopped")
	return 0
}

func runEnqueue(args []string) int {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8003", "Service API URL")
	timeoutSecs := fs.Int("timeout", 0, "Hard timeout override in seconds (0 uses prediction)")
	submittedBy := fs.String("by", "cli", "Submitter recorded with the task")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: drover enqueue [flags] <command>")
		return 1
	}
	command := strings.Join(fs.Args(), " ")

	body, _ := json.Marshal(map[string]any{
		"command":      command,
		"timeout_secs": *timeoutSecs,
		"submitted_by": *submittedBy,
	})

	resp, err := http.Post(*apiURL+"/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enqueue failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		fmt.Fprintf(os.Stderr, "Enqueue rejected: %s\n", resp.Status)
		return 1
	}

	var out struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Bad response: %v\n", err)
		return 1
	}
	fmt.Printf("%s %s\n", out.TaskID, out.Status)
	return 0
}

func runTask(args []string) int {
	fs := flag.NewFlagSet("task", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8003", "Service API URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: drover task [flags] <task-id>")
		return 1
	}

	resp, err := http.Get(*apiURL + "/tasks/" + fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lookup failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Fprintln(os.Stderr, "Task not found")
		return 1
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Lookup rejected: %s\n", resp.Status)
		return 1
	}

	var pretty bytes.Buffer
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		fmt.Fprintf(os.Stderr, "Bad response: %v\n", err)
		return 1
	}
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return 0
	}
	fmt.Println(pretty.String())
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8003", "Service API URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runVersion() int {
	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		commit = "unknown"
	}

	fmt.Printf("drover %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	return 0
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
