// Command nbexec executes a code snippet on a Jupyter gateway kernel and
// prints its output:
//
//	nbexec -gateway http://localhost:8888 'print(40 + 2)'
//
// With no code arguments the snippet is read from stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/remote-notebook/kernelclient/internal/gateway"
	"github.com/remote-notebook/kernelclient/internal/history"
	"github.com/remote-notebook/kernelclient/internal/kernel"
	"github.com/remote-notebook/kernelclient/internal/registry"
)

type options struct {
	gatewayURL  string
	token       string
	document    string
	kernelSpec  string
	workingDir  string
	historyPath string
	timeout     time.Duration
	keep        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.gatewayURL, "gateway", getEnv("JUPYTER_GATEWAY_URL", "http://localhost:8888"), "gateway base URL")
	flag.StringVar(&opts.token, "token", getEnv("JUPYTER_TOKEN", ""), "gateway auth token")
	flag.StringVar(&opts.document, "document", "console.ipynb", "document identity for the session")
	flag.StringVar(&opts.kernelSpec, "kernel", "", "kernel spec name (empty for the gateway default)")
	flag.StringVar(&opts.workingDir, "workdir", "", "kernel working directory")
	flag.StringVar(&opts.historyPath, "history", "", "record executions to this SQLite database")
	flag.DurationVar(&opts.timeout, "timeout", 0, "per-execution timeout (0 for none)")
	flag.BoolVar(&opts.keep, "keep", false, "leave the kernel running on exit")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	code, err := readCode(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "nbexec: %v\n", err)
		os.Exit(2)
	}

	// An interrupt abandons the running execution; the cleanup still runs.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Warn("interrupted")
		cancel()
	}()

	if err := run(ctx, code, opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "nbexec: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, code string, opts options, logger *slog.Logger) error {
	client, err := gateway.NewClient(gateway.Config{
		BaseURL: opts.gatewayURL,
		Token:   opts.token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var recorder kernel.Recorder
	if opts.historyPath != "" {
		db, err := history.Open(opts.historyPath)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		repo := history.NewRepository(db)
		defer repo.Close()
		recorder = repo.Recorder()
	}

	var kernelIDs []string
	factory := func(ctx context.Context, document string) (*kernel.Session, error) {
		info, err := client.StartKernel(ctx, opts.kernelSpec, document)
		if err != nil {
			return nil, err
		}
		kernelIDs = append(kernelIDs, info.ID)

		sess, err := kernel.NewSession(kernel.Config{
			Endpoint:   client.Endpoint(info.ID),
			Document:   document,
			WorkingDir: opts.workingDir,
			KernelSpec: info.Name,
			Recorder:   recorder,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		if err := sess.Connect(ctx); err != nil {
			return nil, err
		}
		return sess, nil
	}

	sessions := registry.New(factory, logger)
	defer func() {
		sessions.Close()
		if opts.keep {
			return
		}
		// The run context may be canceled already; shutdown gets its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, id := range kernelIDs {
			if err := client.ShutdownKernel(shutdownCtx, id); err != nil {
				logger.Warn("failed to shut down kernel", "kernel_id", id, "error", err)
			}
		}
	}()

	sess, err := sessions.Acquire(ctx, opts.document)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	execCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	outcome, err := sess.Execute(execCtx, code, printEvent)
	if err != nil {
		switch outcome.Status {
		case kernel.OutcomeFailed:
			// The traceback already went to stderr via the sink.
			return errors.New("execution failed")
		case kernel.OutcomeAborted:
			return fmt.Errorf("execution aborted: %w", err)
		default:
			return err
		}
	}
	return nil
}

// printEvent renders one output event the way a console does: streams
// verbatim, results on their own line, tracebacks to stderr.
func printEvent(ev kernel.OutputEvent) {
	switch ev := ev.(type) {
	case kernel.Stream:
		if ev.Name == kernel.StreamStderr {
			fmt.Fprint(os.Stderr, ev.Text)
		} else {
			fmt.Print(ev.Text)
		}
	case kernel.RichResult:
		if text, ok := ev.Bundle.Text(); ok {
			fmt.Println(text)
		}
	case kernel.ErrorOutput:
		if ev.Traceback != "" {
			fmt.Fprintln(os.Stderr, ev.Traceback)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s\n", ev.Name, ev.Message)
		}
	case kernel.ClearOutput:
		// Nothing to clear on a line printer.
	}
}

// readCode takes the snippet from the arguments, falling back to stdin.
func readCode(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, "\n"), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read code from stdin: %w", err)
	}
	code := strings.TrimSpace(string(data))
	if code == "" {
		return "", errors.New("no code to execute")
	}
	return code, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
