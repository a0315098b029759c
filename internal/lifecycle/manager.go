// Package lifecycle drives the analyzer containers through docker compose.
// Operations for a given project name are serialized behind a per-name
// lock so concurrent start/stop requests queue instead of racing.
package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const commandTimeout = 120 * time.Second

// Manager shells out to docker compose with bounded timeouts.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	log   *zap.SugaredLogger
}

func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*sync.Mutex),
		log:   zap.S().Named("lifecycle"),
	}
}

// ServiceState is one container's state as reported by compose ps.
type ServiceState struct {
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health,omitempty"`
}

// Start brings the project's services up, detached.
func (m *Manager) Start(ctx context.Context, project string) error {
	unlock := m.lockProject(project)
	defer unlock()

	m.log.Infow("starting analyzer services", "project", project)
	_, err := m.compose(ctx, project, "up", "-d", "--remove-orphans")
	return errors.Wrapf(err, "starting project %s", project)
}

// Stop tears the project's services down.
func (m *Manager) Stop(ctx context.Context, project string) error {
	unlock := m.lockProject(project)
	defer unlock()

	m.log.Infow("stopping analyzer services", "project", project)
	_, err := m.compose(ctx, project, "down")
	return errors.Wrapf(err, "stopping project %s", project)
}

// Status returns the per-service state of the project.
func (m *Manager) Status(ctx context.Context, project string) ([]ServiceState, error) {
	unlock := m.lockProject(project)
	defer unlock()

	out, err := m.compose(ctx, project, "ps", "--format", "json")
	if err != nil {
		return nil, errors.Wrapf(err, "querying project %s", project)
	}

	// compose emits one JSON object per line
	var states []ServiceState
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var state ServiceState
		if err := json.Unmarshal([]byte(line), &state); err != nil {
			m.log.Debugw("skipping unparseable compose ps line", "line", line, "error", err)
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// PortAccessible reports whether a TCP connection to host:port succeeds
// within the timeout.
func (m *Manager) PortAccessible(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (m *Manager) compose(ctx context.Context, project string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	full := append([]string{"compose", "-p", project}, args...)
	cmd := exec.CommandContext(ctx, "docker", full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker %s: %w: %s", strings.Join(full, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (m *Manager) lockProject(project string) func() {
	m.mu.Lock()
	lock, ok := m.locks[project]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[project] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
