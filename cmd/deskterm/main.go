package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/danmuck/deskterm/internal/observability"
	"github.com/danmuck/deskterm/internal/terminal"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to deskterm TOML config")
	headless := flag.Bool("headless", false, "read commands from stdin and print output to stdout")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	logger := observability.InitLogger("deskterm")
	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deskterm: %v\n", err)
		os.Exit(1)
	}

	var logFile *os.File
	if !*headless && cfg.LogFile != "" {
		// the alt screen owns stderr while the UI runs
		logFile, err = os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "deskterm: open log file: %v\n", err)
			os.Exit(1)
		}
		defer logFile.Close()
		logger = logger.Output(zerolog.ConsoleWriter{Out: logFile, NoColor: true})
	}

	if err := run(cfg, *headless, logger); err != nil {
		logger.Error().Err(err).Msg("deskterm exited with error")
		fmt.Fprintf(os.Stderr, "deskterm: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg clientConfig, headless bool, logger zerolog.Logger) error {
	store, closer, err := openStore(cfg, logger.With().Str("component", "store").Logger())
	if err != nil {
		return err
	}
	defer closer.Close()

	client, err := terminal.New(terminal.Options{
		APIBase:    cfg.APIBase,
		StreamBase: cfg.StreamBase,
		APIKey:     cfg.APIKey,
		Store:      store,
		Config:     cfg.Session,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if headless {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runHeadless(ctx, client, os.Stdin, os.Stdout)
	}

	_, err = tea.NewProgram(newModel(client), tea.WithAltScreen()).Run()
	return err
}

// runHeadless pipes stdin lines to the session and session output to out
// until stdin closes or ctx ends.
func runHeadless(ctx context.Context, client sessionClient, in io.Reader, out io.Writer) error {
	dispose := client.OnOutput(func(text string) {
		_, _ = io.WriteString(out, text)
	})
	defer dispose()

	if !client.InitSession(ctx) {
		fmt.Fprintln(out, "Error: could not start a terminal session; the next command retries")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			client.ExecuteCommand(line)
		}
	}
}
