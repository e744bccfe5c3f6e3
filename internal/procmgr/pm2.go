// Package procmgr drives the PM2 process manager that hosts the fleet's bots.
package procmgr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/logging"
	"fleet-trader/internal/models"
)

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args. On failure the returned error carries stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%w: %s", err, msg)
		}
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

// Options configures a PM2 client.
type Options struct {
	Binary string
	// Timeout bounds each pm2 invocation.
	Timeout time.Duration
	// Interpreter is passed to "pm2 start" when set, e.g. "none" for
	// native binaries.
	Interpreter string
	Runner      Runner
	Logger      zerolog.Logger
}

// PM2 is a process manager backed by the pm2 CLI.
type PM2 struct {
	binary      string
	timeout     time.Duration
	interpreter string
	runner      Runner
	logger      zerolog.Logger
	now         func() time.Time
}

// NewPM2 creates a PM2 client.
func NewPM2(opts Options) *PM2 {
	if opts.Binary == "" {
		opts.Binary = "pm2"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &PM2{
		binary:      opts.Binary,
		timeout:     opts.Timeout,
		interpreter: opts.Interpreter,
		runner:      opts.Runner,
		logger:      logging.WithComponent(opts.Logger, "pm2"),
		now:         time.Now,
	}
}

// List returns every process pm2 knows about.
func (p *PM2) List(ctx context.Context) ([]models.ProcessState, error) {
	out, err := p.run(ctx, "jlist", "", "jlist")
	if err != nil {
		return nil, err
	}
	procs, err := ParseJList(out, p.now())
	if err != nil {
		return nil, ferrors.NewProcessError("jlist", "", "", err)
	}
	return procs, nil
}

// Start launches script under name. Extra args follow a "--" separator.
func (p *PM2) Start(ctx context.Context, name, script string, args []string) error {
	argv := []string{"start", script, "--name", name}
	if p.interpreter != "" {
		argv = append(argv, "--interpreter", p.interpreter)
	}
	if len(args) > 0 {
		argv = append(argv, "--")
		argv = append(argv, args...)
	}
	_, err := p.run(ctx, "start", name, argv...)
	return err
}

// Restart restarts an existing process.
func (p *PM2) Restart(ctx context.Context, name string) error {
	_, err := p.run(ctx, "restart", name, "restart", name)
	return err
}

// Stop stops a running process.
func (p *PM2) Stop(ctx context.Context, name string) error {
	_, err := p.run(ctx, "stop", name, "stop", name)
	return err
}

func (p *PM2) run(ctx context.Context, command, name string, argv ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	out, err := p.runner.Run(ctx, p.binary, argv...)
	p.logger.Debug().
		Str("command", command).
		Str("name", name).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("pm2")
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w after %s: %w", ferrors.ErrTimeout, p.timeout, err)
		}
		return nil, ferrors.NewProcessError(command, name, "", err)
	}
	return out, nil
}

type jlistEntry struct {
	Name  string `json:"name"`
	Monit struct {
		Memory int64   `json:"memory"`
		CPU    float64 `json:"cpu"`
	} `json:"monit"`
	Env struct {
		Status      string  `json:"status"`
		RestartTime int     `json:"restart_time"`
		PMUptime    int64   `json:"pm_uptime"`
		Memory      int64   `json:"memory"`
		CPU         float64 `json:"cpu"`
	} `json:"pm2_env"`
}

// ParseJList decodes "pm2 jlist" output. pm2 sometimes prints banners such as
// "[PM2] Spawning daemon" before the JSON array.
func ParseJList(data []byte, now time.Time) ([]models.ProcessState, error) {
	i := arrayStart(data)
	if i < 0 {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("jlist: no JSON array in output")
	}

	var entries []jlistEntry
	if err := json.Unmarshal(data[i:], &entries); err != nil {
		return nil, fmt.Errorf("jlist: %w", err)
	}

	out := make([]models.ProcessState, 0, len(entries))
	for _, e := range entries {
		ps := models.ProcessState{
			Name:         e.Name,
			Status:       runtimeStatus(e.Env.Status),
			MemoryBytes:  e.Monit.Memory,
			CPUPercent:   e.Monit.CPU,
			RestartCount: e.Env.RestartTime,
		}
		if ps.MemoryBytes == 0 {
			ps.MemoryBytes = e.Env.Memory
		}
		if ps.CPUPercent == 0 {
			ps.CPUPercent = e.Env.CPU
		}
		if ps.IsOnline() && e.Env.PMUptime > 0 {
			if up := now.Sub(time.UnixMilli(e.Env.PMUptime)); up > 0 {
				ps.Uptime = up
			}
		}
		out = append(out, ps)
	}
	return out, nil
}

// arrayStart returns the offset of the first '[' that opens a JSON array of
// objects, or -1.
func arrayStart(data []byte) int {
	for off := 0; off < len(data); {
		i := bytes.IndexByte(data[off:], '[')
		if i < 0 {
			return -1
		}
		i += off
		rest := bytes.TrimLeft(data[i+1:], " \t\r\n")
		if len(rest) > 0 && (rest[0] == '{' || rest[0] == ']') {
			return i
		}
		off = i + 1
	}
	return -1
}

func runtimeStatus(s string) models.RuntimeStatus {
	switch s {
	case "online", "launching":
		return models.RuntimeOnline
	case "errored":
		return models.RuntimeErrored
	default:
		return models.RuntimeStopped
	}
}
