// Package aiproc spawns and tracks the AI client worker processes that play
// AI empires. The game flow layer expects each spawned process to connect
// back and join under its assigned player name.
package aiproc

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// Process is a handle to one spawned AI client
type Process interface {
	// Kill force-terminates the process
	Kill() error
	// Done is closed once the process has exited
	Done() <-chan struct{}
}

// Launcher starts AI client processes; stubbed in tests
type Launcher interface {
	Launch(name string, args []string) (Process, error)
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

// ExecLauncher launches real OS processes
type ExecLauncher struct {
	// ClientPath is the AI client binary
	ClientPath string
}

// Launch starts the AI client and reaps it on exit
func (l *ExecLauncher) Launch(name string, args []string) (Process, error) {
	cmd := exec.Command(l.ClientPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start AI client %q: %w", name, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// aiWorker is the manager's record of one expected AI participant
type aiWorker struct {
	name      string
	process   Process
	connected bool
	ackNeeded bool
	acked     bool
}

// Manager tracks the AI worker set through spawn, join, shutdown ack and
// kill. Only the reactor goroutine touches it.
type Manager struct {
	launcher Launcher
	logger   *slog.Logger

	workers map[string]*aiWorker
}

// NewManager creates an empty manager
func NewManager(launcher Launcher, logger *slog.Logger) *Manager {
	return &Manager{
		launcher: launcher,
		logger:   logger,
		workers:  make(map[string]*aiWorker),
	}
}

// Spawn starts one AI client that must join with the given player name
func (m *Manager) Spawn(name, serverAddr string, aggression int) error {
	args := []string{
		"--name", name,
		"--server", serverAddr,
		"--aggression", fmt.Sprintf("%d", aggression),
	}
	process, err := m.launcher.Launch(name, args)
	if err != nil {
		return err
	}
	m.workers[name] = &aiWorker{name: name, process: process}
	m.logger.Info("AI client spawned", slog.String("player", name))
	return nil
}

// Expected reports whether the given join name matches a spawned AI worker
func (m *Manager) Expected(name string) bool {
	_, ok := m.workers[name]
	return ok
}

// MarkConnected records that the named worker's session established
func (m *Manager) MarkConnected(name string) {
	if w, ok := m.workers[name]; ok {
		w.connected = true
	}
}

// MarkDisconnected records a dropped AI session
func (m *Manager) MarkDisconnected(name string) {
	if w, ok := m.workers[name]; ok {
		w.connected = false
	}
}

// AllConnected reports whether every spawned worker has joined
func (m *Manager) AllConnected() bool {
	for _, w := range m.workers {
		if !w.connected {
			return false
		}
	}
	return true
}

// RequireAcks marks every connected worker as owing a shutdown ack
func (m *Manager) RequireAcks() {
	for _, w := range m.workers {
		w.ackNeeded = w.connected
		w.acked = false
	}
}

// Ack records a shutdown acknowledgement from the named worker
func (m *Manager) Ack(name string) {
	if w, ok := m.workers[name]; ok {
		w.acked = true
	}
}

// AllAcked reports whether every worker owing an ack has delivered it or
// dropped its connection
func (m *Manager) AllAcked() bool {
	for _, w := range m.workers {
		if w.ackNeeded && !w.acked && w.connected {
			return false
		}
	}
	return true
}

// KillStragglers force-kills workers that never acked, releasing their
// processes after the shutdown deadline
func (m *Manager) KillStragglers() {
	for _, w := range m.workers {
		if w.ackNeeded && !w.acked && w.process != nil {
			m.logger.Warn("force-killing unresponsive AI client", slog.String("player", w.name))
			if err := w.process.Kill(); err != nil {
				m.logger.Warn("kill failed", slog.String("player", w.name), slog.String("error", err.Error()))
			}
		}
	}
}

// KillAll force-terminates every tracked worker
func (m *Manager) KillAll() {
	for _, w := range m.workers {
		if w.process != nil {
			_ = w.process.Kill()
		}
	}
}

// Reset forgets all workers, killing any still running
func (m *Manager) Reset() {
	m.KillAll()
	m.workers = make(map[string]*aiWorker)
}

// Names returns the expected AI player names
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.workers))
	for name := range m.workers {
		out = append(out, name)
	}
	return out
}
