package wrapped

import (
	"context"
	"errors"
	"fmt"
	"io"
	logpkg "log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/sandbox"
	"github.com/lemonade-sdk/lemonade-server/pkg/tailbuffer"
)

// readinessRetryInterval is the pause between WaitReady's readiness probes;
// matched to the teacher's runner.go readiness cadence.
const readinessRetryInterval = 500 * time.Millisecond

// StopMode selects how a Process asks its child to exit gracefully before
// falling back to killing it.
type StopMode int

const (
	// StopInterrupt sends SIGINT (or, on Windows, Kill, since Windows consoles
	// have no portable equivalent) and waits for exit.
	StopInterrupt StopMode = iota
	// StopStdinExit writes "exit\n" to the child's stdin before interrupting.
	StopStdinExit
)

// Capabilities describes what one wrapped-server variant supports, so the
// translation and scheduling layers can make decisions without a type switch
// over concrete engine types.
type Capabilities struct {
	// Device is the scheduler's quota/eviction dimension: "cpu", "igpu",
	// "dgpu", or "npu".
	Device string
	// NPUExclusive means no other NPU-bound engine may be resident while
	// this one is loaded.
	NPUExclusive bool
	// SupportsResponses indicates the OpenAI /responses path is implemented
	// rather than proxied to a 501.
	SupportsResponses bool
	// Multipart indicates this engine expects multipart/form-data uploads
	// (whisper-style transcription) rather than JSON bodies.
	Multipart bool
	// SyncGenerate indicates a single long-running synchronous call rather
	// than a streamable endpoint (stable-diffusion-style image generation).
	SyncGenerate bool
	// RewritesModelName indicates proxied request bodies must have their
	// "model" field rewritten to an engine-recognized identifier (FLM).
	RewritesModelName bool
}

// Config configures a Process: the concrete binary, arguments, bound port,
// and readiness/shutdown idiom for one engine invocation.
type Config struct {
	// EngineName identifies the engine family for logging ("llama.cpp", "flm", ...).
	EngineName string
	// BinPath is the absolute path to the engine executable.
	BinPath string
	// Args are the fully-built command-line arguments (already shellwords-expanded).
	Args []string
	// WorkDir is the working directory for the child process, if any.
	WorkDir string
	// Port is the TCP port the engine is instructed to (and expected to) bind.
	Port int
	// ReadyPath is the HTTP path polled for readiness (e.g. "/health", "/api/tags").
	ReadyPath string
	// StopMode selects the graceful-exit idiom.
	StopMode StopMode
	// SandboxConfiguration is the platform sandbox profile passed to
	// pkg/sandbox.Create (only meaningful on Darwin; empty elsewhere).
	SandboxConfiguration string
	// Capabilities describes this engine's feature surface.
	Capabilities Capabilities
}

// Server is the shared wrapped-server contract. One concrete adapter exists
// per engine family; all of them embed *Process for the common lifecycle
// plumbing and override only what differs (argument building, readiness
// path, model-name rewriting).
type Server interface {
	http.Handler

	// Spawn starts the backend subprocess per cfg.
	Spawn(ctx context.Context) error
	// WaitReady polls the readiness probe until success or deadline.
	WaitReady(ctx context.Context, deadline time.Duration) error
	// Address returns the wrapped server's base URL once Ready.
	Address() string
	// Stop requests graceful shutdown, then terminates, then waits.
	Stop(ctx context.Context) error
	// State returns the current lifecycle state.
	State() State
	// Telemetry returns the most recently parsed stdout sample.
	Telemetry() TelemetrySample
	// Capabilities reports this engine's feature surface.
	Capabilities() Capabilities
}

// Process is the embeddable base implementing the mechanical parts of Server:
// subprocess spawn/termination via pkg/sandbox (so process-group containment
// is handled uniformly across platforms), a reverse proxy targeting the
// engine's TCP port, readiness polling, and stdout-derived telemetry. It is
// the generalized form of the teacher's scheduling.runner, adapted from a
// single fixed unix-socket target to a per-engine configurable TCP port.
type Process struct {
	log logging.Logger
	cfg Config

	mu    sync.Mutex
	state State
	err   error

	box        sandbox.Sandbox
	stdin      io.WriteCloser
	done       chan struct{}
	transport  *http.Transport
	client     *http.Client
	proxy      *httputil.ReverseProxy
	telemetry  *telemetryParser
}

// NewProcess constructs a Process in StateNew. Engine packages call this from
// their own constructor and then embed the result.
func NewProcess(log logging.Logger, cfg Config) *Process {
	return &Process{
		log:       log,
		cfg:       cfg,
		state:     StateNew,
		telemetry: newTelemetryParser(),
	}
}

func (p *Process) setState(next State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.canTransitionTo(next) {
		return fmt.Errorf("invalid wrapped server transition %s -> %s", p.state, next)
	}
	p.state = next
	return nil
}

// State implements Server.State.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Capabilities implements Server.Capabilities.
func (p *Process) Capabilities() Capabilities {
	return p.cfg.Capabilities
}

// Telemetry implements Server.Telemetry.
func (p *Process) Telemetry() TelemetrySample {
	return p.telemetry.Sample()
}

// Address implements Server.Address.
func (p *Process) Address() string {
	return fmt.Sprintf("http://127.0.0.1:%d", p.cfg.Port)
}

// Spawn starts the configured subprocess, wiring stdout/stderr into the
// component logger, a bounded tail buffer (for crash diagnostics), and the
// telemetry parser simultaneously, then constructs the reverse proxy that
// will front it.
func (p *Process) Spawn(ctx context.Context) error {
	// Model files are resolved before a Process is built, so a new Process
	// passes straight through Downloading on its way to Starting.
	if p.State() == StateNew {
		if err := p.setState(StateDownloading); err != nil {
			return err
		}
	}
	if err := p.setState(StateStarting); err != nil {
		return err
	}

	tail := tailbuffer.NewTailBuffer(4096)
	logWriter := p.log.Writer()

	var stdinReader io.Reader
	if p.cfg.StopMode == StopStdinExit {
		pr, pw := io.Pipe()
		stdinReader = pr
		p.stdin = pw
	}

	box, err := sandbox.Create(
		ctx,
		p.cfg.SandboxConfiguration,
		func(cmd *exec.Cmd) {
			cmd.Dir = p.cfg.WorkDir
			cmd.Stdin = stdinReader
			cmd.Stdout = multiWriter(logWriter, tail, p.telemetry)
			cmd.Stderr = multiWriter(logWriter, tail, p.telemetry)
			// Closing the sandbox cancels the command's context: interrupt
			// the child first, and let os/exec kill it if it is still
			// running ten seconds later.
			cmd.Cancel = func() error {
				if runtime.GOOS == "windows" {
					return cmd.Process.Kill()
				}
				return cmd.Process.Signal(os.Interrupt)
			}
			cmd.WaitDelay = 10 * time.Second
		},
		p.cfg.BinPath,
		p.cfg.Args...,
	)
	if err != nil {
		_ = p.setState(StateFailed)
		return fmt.Errorf("unable to start %s: %w", p.cfg.EngineName, err)
	}
	p.box = box

	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, fmt.Sprintf("127.0.0.1:%d", p.cfg.Port))
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	p.transport = transport
	p.client = &http.Client{Transport: transport}

	upstream, _ := url.Parse("http://" + p.cfg.EngineName + ".wrapped.internal")
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = "localhost"
	}
	proxy.ModifyResponse = func(resp *http.Response) error {
		resp.Header.Del("Access-Control-Allow-Origin")
		return nil
	}
	proxy.Transport = transport
	proxy.ErrorLog = logpkg.New(logWriter, "", 0)
	proxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		if errors.Is(err, context.Canceled) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}
	p.proxy = proxy

	p.done = make(chan struct{})
	go func() {
		waitErr := box.Command().Wait()
		p.mu.Lock()
		p.err = waitErr
		p.mu.Unlock()
		close(p.done)
	}()

	return nil
}

// WaitReady polls cfg.ReadyPath until it returns 2xx, the backend exits, or
// deadline elapses.
func (p *Process) WaitReady(ctx context.Context, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for {
		select {
		case <-p.done:
			_ = p.setState(StateFailed)
			p.mu.Lock()
			err := p.err
			p.mu.Unlock()
			if err == nil {
				return lemonadeerr.ErrEngineFailed
			}
			return fmt.Errorf("%w: %v", lemonadeerr.ErrEngineFailed, err)
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Address()+p.cfg.ReadyPath, http.NoBody)
		if err == nil {
			resp, doErr := p.client.Do(req)
			if doErr == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					if err := p.setState(StateReady); err != nil {
						return err
					}
					return nil
				}
			}
		}

		select {
		case <-time.After(readinessRetryInterval):
		case <-ctx.Done():
			_ = p.setState(StateFailed)
			return fmt.Errorf("%s did not become ready in time: %w", p.cfg.EngineName, ctx.Err())
		}
	}
}

// Stop requests graceful exit (per cfg.StopMode), then waits for the process
// to terminate, moving through Stopping to Stopped.
func (p *Process) Stop(ctx context.Context) error {
	if err := p.setState(StateStopping); err != nil {
		// Failed servers are stopped too; allow Failed -> Stopping implicitly
		// by forcing the state rather than erroring the caller's unload.
		p.mu.Lock()
		p.state = StateStopping
		p.mu.Unlock()
	}

	if p.cfg.StopMode == StopStdinExit && p.stdin != nil {
		_, _ = p.stdin.Write([]byte("exit\n"))
		_ = p.stdin.Close()
	}

	if err := p.box.Close(); err != nil {
		p.log.Warnf("error closing %s sandbox: %v", p.cfg.EngineName, err)
	}

	select {
	case <-p.done:
	case <-ctx.Done():
	}

	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	if p.transport != nil {
		p.transport.CloseIdleConnections()
	}

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	return nil
}

// ServeHTTP implements http.Handler by forwarding to the engine's reverse proxy.
func (p *Process) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}

// multiWriter fans bytes out to the log writer, the crash tail buffer, and
// the telemetry parser without requiring each engine adapter to wire this by
// hand.
func multiWriter(writers ...interface {
	Write([]byte) (int, error)
}) multiWriterT {
	return multiWriterT(writers)
}

type multiWriterT []interface {
	Write([]byte) (int, error)
}

func (m multiWriterT) Write(b []byte) (int, error) {
	for _, w := range m {
		if _, err := w.Write(b); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}
