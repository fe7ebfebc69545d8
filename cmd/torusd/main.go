// Command torusd serves a shared toroidal canvas over a Unix stream socket.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kong"
	kongcompletion "github.com/jotaen/kong-completion"

	torus "github.com/programble/torus"
	"github.com/programble/torus/internal/config"
	"github.com/programble/torus/internal/daemon"
	"github.com/programble/torus/internal/exitcode"
)

type CLI struct {
	Version kong.VersionFlag `help:"Print version."`
	Data    string           `short:"d" help:"Tile store path override." env:"TORUS_DATA"`
	Socket  string           `short:"s" help:"Unix socket path override." env:"TORUS_SOCKET"`
	PID     string           `short:"p" help:"PID file path override." env:"TORUS_PID"`

	Serve      ServeCmd                  `cmd:"" default:"1" help:"Run the daemon in the foreground."`
	Init       InitCmd                   `cmd:"" help:"Write a default config file."`
	Config     ConfigCmd                 `cmd:"" help:"Print effective configuration."`
	Completion kongcompletion.Completion `cmd:"" help:"Print shell completion setup instructions."`
}

// ServeCmd binds the socket, opens the tile store, and blocks servicing
// clients until a shutdown signal arrives.
type ServeCmd struct{}

func (cmd *ServeCmd) Run(cfg *config.Config) error {
	if err := cfg.EnsureDirs(); err != nil {
		return &commandExitError{code: exitcode.CantCreate, err: err}
	}

	srv, err := daemon.New(*cfg)
	if err != nil {
		return &commandExitError{code: exitcode.NoInput, err: fmt.Errorf("open tile store: %w", err)}
	}
	if err := srv.Listen(); err != nil {
		return &commandExitError{code: exitcode.Unavailable, err: err}
	}
	if err := srv.Run(); err != nil {
		return &commandExitError{code: exitcode.IOErr, err: err}
	}
	return nil
}

// InitCmd writes the default configuration to the canonical config path,
// refusing to overwrite an existing one.
type InitCmd struct{}

func (cmd *InitCmd) Run(_ *config.Config) error {
	path := config.DefaultPath()

	if _, err := os.Stat(path); err == nil {
		return &commandExitError{code: exitcode.CantCreate, err: fmt.Errorf("config already exists: %s", path)}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &commandExitError{code: exitcode.CantCreate, err: fmt.Errorf("create config directory: %w", err)}
	}

	f, err := os.Create(path)
	if err != nil {
		return &commandExitError{code: exitcode.CantCreate, err: err}
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config.Default()); err != nil {
		return &commandExitError{code: exitcode.IOErr, err: err}
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// ConfigCmd prints the effective configuration, after CLI overrides and
// defaults have been applied, as TOML.
type ConfigCmd struct{}

func (cmd *ConfigCmd) Run(cfg *config.Config) error {
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}

type commandExitError struct {
	code int
	err  error
}

func (e *commandExitError) Error() string { return e.err.Error() }
func (e *commandExitError) Unwrap() error { return e.err }
func (e *commandExitError) ExitCode() int { return e.code }

type exitCoder interface {
	ExitCode() int
}

func main() {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.UsageOnError(),
		kong.Vars{"version": torus.Version()},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitcode.OSErr)
	}
	kongcompletion.Register(parser)

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.Printf("%s", err)
		os.Exit(exitcode.Usage)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitcode.NoInput)
	}
	if cli.Data != "" {
		cfg.DataPath = cli.Data
	}
	if cli.Socket != "" {
		cfg.SocketPath = cli.Socket
	}
	if cli.PID != "" {
		cfg.PIDPath = cli.PID
	}

	err = kctx.Run(cfg)
	if err == nil {
		return
	}

	var ec exitCoder
	if errors.As(err, &ec) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ec.ExitCode())
	}

	kctx.FatalIfErrorf(err)
}
