package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/yaml-schema-client/pkg/rpc"
	"github.com/Sternrassler/yaml-schema-client/pkg/telemetry"
)

// Supervision errors returned by ServerProcess.Run.
var (
	// ErrServerGaveUp is returned when the restart policy stops restarting the server.
	ErrServerGaveUp = errors.New("language server crashed too often, not restarting")

	// ErrConnectionFailed is returned after repeated unreadable server output.
	ErrConnectionFailed = errors.New("language server connection failed")
)

// shutdownTimeout bounds the graceful shutdown handshake.
const shutdownTimeout = 2 * time.Second

// SetupFunc prepares a fresh connection to a started server.
type SetupFunc func(ctx context.Context, conn *rpc.Conn) error

// ServerConfig describes how to launch and supervise the language server.
type ServerConfig struct {
	Name        string
	Path        string
	Args        []string
	Env         []string
	MaxRestarts int
	Telemetry   telemetry.Service
	Setup       SetupFunc
	Logger      *zerolog.Logger
}

// ServerProcess runs the language server over stdio and restarts it when it exits.
type ServerProcess struct {
	cfg        ServerConfig
	handler    *telemetry.ErrorHandler
	logger     zerolog.Logger
	starts     int
	connErrors int
	initOpts   any
}

// NewServerProcess creates a supervisor for the server described by cfg.
func NewServerProcess(cfg ServerConfig) *ServerProcess {
	if cfg.Name == "" {
		cfg.Name = "YAML"
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Nop{}
	}

	logger := log.With().Str("component", "server-process").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &ServerProcess{
		cfg:     cfg,
		handler: telemetry.NewErrorHandler(cfg.Telemetry, cfg.Name, cfg.MaxRestarts),
		logger:  logger,
	}
}

// SetInitializationOptions sets the initializationOptions sent with initialize.
func (p *ServerProcess) SetInitializationOptions(opts any) {
	p.initOpts = opts
}

// Starts returns how many times the server has been launched.
func (p *ServerProcess) Starts() int {
	return p.starts
}

// Run launches the server and supervises it until ctx ends or the restart
// policy gives up.
func (p *ServerProcess) Run(ctx context.Context) error {
	for {
		err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrConnectionFailed) {
			return err
		}
		if err != nil {
			p.logger.Warn().Err(err).Msg("Language server session ended with error")
		}

		if p.handler.Closed() == telemetry.DoNotRestart {
			return ErrServerGaveUp
		}
		p.logger.Info().Int("starts", p.starts).Msg("Restarting language server")
	}
}

func (p *ServerProcess) runOnce(ctx context.Context) error {
	cmd := exec.Command(p.cfg.Path, p.cfg.Args...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	output := telemetry.NewOutputWriter(p.cfg.Telemetry, p.logger)
	cmd.Stderr = output
	defer output.Flush()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cfg.Path, err)
	}
	p.starts++
	p.logger.Info().Str("path", p.cfg.Path).Int("pid", cmd.Process.Pid).Msg("Language server started")

	conn := rpc.NewConn(stdout, stdin)
	connErr := make(chan error, 1)
	go func() {
		connErr <- conn.Run(ctx)
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.shutdown(conn, cmd)
		case <-stop:
		}
	}()

	if err := p.initialize(ctx, conn); err != nil {
		p.logger.Warn().Err(err).Msg("Initialize handshake failed")
	} else if p.cfg.Setup != nil {
		if err := p.cfg.Setup(ctx, conn); err != nil {
			p.logger.Warn().Err(err).Msg("Session setup failed")
		}
	}

	if err := <-connErr; err != nil {
		// The stream is out of sync; the server cannot be talked to any more.
		cmd.Process.Kill()
		cmd.Wait()
		p.connErrors++
		if p.handler.Error(ctx, err, p.connErrors) == telemetry.Shutdown {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		return err
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("language server exited: %w", err)
	}
	return nil
}

type initializeParams struct {
	ProcessID             int            `json:"processId"`
	RootURI               *string        `json:"rootUri"`
	Capabilities          map[string]any `json:"capabilities"`
	InitializationOptions any            `json:"initializationOptions,omitempty"`
}

func (p *ServerProcess) initialize(ctx context.Context, conn *rpc.Conn) error {
	params := initializeParams{
		ProcessID:             os.Getpid(),
		Capabilities:          map[string]any{},
		InitializationOptions: p.initOpts,
	}
	if err := conn.SendRequest(ctx, "initialize", params, nil); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return conn.SendNotification("initialized", struct{}{})
}

// shutdown asks the server to exit and kills it if it does not.
func (p *ServerProcess) shutdown(conn *rpc.Conn, cmd *exec.Cmd) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := conn.SendRequest(ctx, "shutdown", nil, nil); err == nil {
		conn.SendNotification("exit", nil)
	}

	select {
	case <-conn.Done():
	case <-ctx.Done():
	}
	// Already exited is fine.
	cmd.Process.Kill()
}
