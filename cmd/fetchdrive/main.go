// Command fetchdrive sends HTTP requests through a configured driver, serves
// the echo API and lists the request journal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/busy-dog/fetch-driver/internal/config"
	"github.com/busy-dog/fetch-driver/internal/echo"
	"github.com/busy-dog/fetch-driver/pkg/driver"
	"github.com/busy-dog/fetch-driver/pkg/parsers"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCommand(os.Stdout, os.Stderr).Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetchdrive:", err)
		os.Exit(1)
	}
}

func newCommand(stdout, stderr io.Writer) *cli.Command {
	commands := make([]*cli.Command, 0, len(driver.Methods)+2)
	for _, method := range driver.Methods {
		commands = append(commands, requestCommand(method, stdout, stderr))
	}
	commands = append(commands, echoCommand(stderr), journalCommand(stdout, stderr))

	return &cli.Command{
		Name:      "fetchdrive",
		Usage:     "send HTTP requests through a middleware driver",
		Writer:    stdout,
		ErrWriter: stderr,
		// Header values may contain commas.
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				Value:   config.DefaultFile,
			},
		},
		Commands: commands,
	}
}

func loadApp(cmd *cli.Command, opts appOptions) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.IsSet("base-url") {
		cfg.Driver.BaseURL = cmd.String("base-url")
	}
	return newApp(cfg, opts)
}

func requestCommand(method string, stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      strings.ToLower(method),
		Usage:     fmt.Sprintf("send a %s request", method),
		ArgsUsage: "<api>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "request data, JSON or a query string"},
			&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: `extra header as "Name: value"`},
			&cli.StringFlag{Name: "base-url", Usage: "prefix for relative APIs"},
			&cli.DurationFlag{Name: "timeout", Usage: "abort the request after this long"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the body to this file"},
			&cli.BoolFlag{Name: "include", Aliases: []string{"i"}, Usage: "print the status and response headers"},
			&cli.BoolFlag{Name: "curl", Usage: "print the equivalent curl command to stderr"},
			&cli.BoolFlag{Name: "markdown", Usage: "render HTML responses as markdown"},
			&cli.BoolFlag{Name: "lenient", Usage: "repair malformed JSON responses"},
			&cli.BoolFlag{Name: "progress", Usage: "report download progress to stderr"},
			&cli.BoolFlag{Name: "fail", Aliases: []string{"f"}, Usage: "exit with an error on 4xx and 5xx responses"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("%s takes exactly one api argument", cmd.Name)
			}
			opts := appOptions{traces: stderr, logs: stderr}
			if cmd.Bool("curl") {
				opts.curl = stderr
			}
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))
			return a.send(ctx, cmd, method, cmd.Args().First(), stdout, stderr)
		},
	}
}

func (a *app) send(ctx context.Context, cmd *cli.Command, method, api string, stdout, stderr io.Writer) error {
	data, err := requestData(method, cmd.String("data"))
	if err != nil {
		return err
	}

	timeout := a.cfg.Driver.Timeout
	if cmd.IsSet("timeout") {
		timeout = cmd.Duration("timeout")
	}
	inits := []driver.Init{driver.Method(method), driver.Timeout(timeout)}
	for _, h := range cmd.StringSlice("header") {
		name, value, err := parseHeader(h)
		if err != nil {
			return err
		}
		inits = append(inits, driver.Header(name, value))
	}
	switch {
	case cmd.Bool("markdown"):
		inits = append(inits, driver.ParseWith(parsers.Markdown))
	case cmd.Bool("lenient"):
		inits = append(inits, driver.ParseWith(parsers.LenientJSON))
	}
	if cmd.Bool("progress") {
		inits = append(inits, driver.Receive(func(p driver.Progress) {
			fmt.Fprintf(stderr, "\r%6.1f%% of %d bytes", p.Percentage, p.Size)
			if p.Done {
				fmt.Fprintln(stderr)
			}
		}))
	}

	c, err := a.driver.Request(ctx, driver.NewOptions(api, data, inits...))
	if err != nil {
		return err
	}
	defer c.Close()

	if cmd.Bool("include") {
		fmt.Fprintf(stdout, "HTTP %d\n", c.Res.Status)
		if err := c.Res.Header.Write(stdout); err != nil {
			return err
		}
		fmt.Fprintln(stdout)
	}

	output := cmd.String("output")
	if c.Res.Body == nil && c.Res.Raw != nil && c.Res.Raw.Body != nil {
		// Streamed or undecoded types.
		w := stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if _, err := io.Copy(w, c.Res.Raw.Body); err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
	} else if err := writeBody(stdout, c.API, output, c.Res.Body); err != nil {
		return err
	}

	if cmd.Bool("fail") && c.Res.Status >= 400 {
		return fmt.Errorf("%s %s: status %d", method, c.API, c.Res.Status)
	}
	return nil
}

func echoCommand(stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "echo",
		Usage: "serve the echo API",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "listen port, defaults to echo.port"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := newLogger(cfg.Log, stderr)
			if err != nil {
				return err
			}
			port := cfg.Echo.Port
			if cmd.IsSet("port") {
				port = int(cmd.Int("port"))
			}

			srv := echo.New(port, logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutdown signal received, stopping echo server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", slog.String("error", err.Error()))
				return err
			}
			return <-errCh
		},
	}
}

func journalCommand(stdout, stderr io.Writer) *cli.Command {
	open := func(cmd *cli.Command) (*app, error) {
		a, err := loadApp(cmd, appOptions{logs: stderr})
		if err != nil {
			return nil, err
		}
		if a.journal == nil {
			a.Close(context.Background())
			return nil, errors.New("journal is disabled, set journal.path")
		}
		return a, nil
	}

	return &cli.Command{
		Name:  "journal",
		Usage: "inspect recorded requests",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list the most recent requests",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := open(cmd)
					if err != nil {
						return err
					}
					defer a.Close(ctx)

					entries, err := a.journal.List(ctx, int(cmd.Int("limit")))
					if err != nil {
						return err
					}
					for _, e := range entries {
						fmt.Fprintf(stdout, "%s  %s  %-7s %3d  %-5s %8s  %s\n",
							e.ID, e.CreatedAt.Format(time.RFC3339), e.Method, e.Status,
							e.ResponseType, e.Duration.Round(time.Millisecond), e.API)
					}
					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "print a recorded request as curl",
				ArgsUsage: "<id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return errors.New("show takes exactly one id argument")
					}
					a, err := open(cmd)
					if err != nil {
						return err
					}
					defer a.Close(ctx)

					e, err := a.journal.Get(ctx, cmd.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintln(stdout, e.Curl)
					if e.Error != "" {
						fmt.Fprintf(stdout, "# failed: %s\n", e.Error)
					}
					return nil
				},
			},
		},
	}
}
