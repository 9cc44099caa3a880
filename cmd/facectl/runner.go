package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/sakif/protoface/internal/client"
	"github.com/sakif/protoface/internal/playback"
)

// DefaultServer is used when neither --server nor FACECTL_SERVER is set.
const DefaultServer = "http://localhost:1146"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	httpClient *http.Client
	logger     *log.Logger
	input      io.Reader
	scheduler  playback.Scheduler

	mu     sync.Mutex // guards output; the face player writes from several goroutines
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	HTTPClient *http.Client
	Logger     *log.Logger
	Input      io.Reader
	Output     io.Writer
	Scheduler  playback.Scheduler
}

// NewLogger creates a [log.Logger] writing to w (default [os.Stderr]) with
// timestamps and caller reporting enabled.
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{ReportTimestamp: true, ReportCaller: true})
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Scheduler == nil {
		opts.Scheduler = playback.TickerScheduler
	}

	return &Runner{
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		input:      opts.Input,
		output:     opts.Output,
		scheduler:  opts.Scheduler,
	}
}

// App builds the root command.
func (r *Runner) App() *cli.Command {
	return &cli.Command{
		Name:      "facectl",
		Usage:     "Manage and play the expression slots of a protoface server",
		Version:   "0.1.0",
		Writer:    r.output,
		ErrWriter: r.output,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Base URL of the face server",
				Value:   DefaultServer,
				Sources: cli.EnvVars("FACECTL_SERVER"),
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Identity to act as",
				Sources: cli.EnvVars("FACECTL_USER"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log API calls",
			},
		},
		Before:   r.before,
		Commands: r.register(),
	}
}

// before turns on debug logging for --debug.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("debug") {
		r.logger.SetLevel(log.DebugLevel)
	}
	return ctx, nil
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		loginCommand, statusCommand, listCommand, uploadCommand, clearCommand, faceCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// slogger exposes the charm logger to packages that log through slog.
func (r *Runner) slogger() *slog.Logger {
	return slog.New(r.logger)
}

// client builds an API client for the --server flag. When needUser is set
// the --user flag must be present and is put in the client's cookie jar.
func (r *Runner) client(cmd *cli.Command, needUser bool) (*client.Client, error) {
	c, err := client.New(cmd.String("server"),
		client.WithHTTPClient(r.httpClient),
		client.WithLogger(r.slogger()),
	)
	if err != nil {
		return nil, err
	}

	if user := cmd.String("user"); user != "" {
		c.SetUser(user)
	} else if needUser {
		return nil, fmt.Errorf("no user: pass --user or set FACECTL_USER (see 'facectl login')")
	}
	return c, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
