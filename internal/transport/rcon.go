package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorcon/rcon"

	"github.com/starford/mira/internal/apperr"
)

// RCON is a Conn backed by the Minecraft remote console protocol.
type RCON struct {
	addr     string
	password string
	timeout  time.Duration

	mu   sync.Mutex
	conn *rcon.Conn
}

// NewRCON returns an unconnected RCON client.
func NewRCON(addr, password string, timeout time.Duration) *RCON {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RCON{addr: addr, password: password, timeout: timeout}
}

// Connect dials the server if not already connected.
func (r *RCON) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked(ctx)
}

func (r *RCON) connectLocked(ctx context.Context) error {
	if r.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := rcon.Dial(r.addr, r.password,
		rcon.SetDialTimeout(r.timeout),
		rcon.SetDeadline(r.timeout),
	)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w: %w", r.addr, err, apperr.ErrTransport)
	}
	r.conn = conn
	return nil
}

// Command executes one console command. A failed exchange drops the
// connection so the next call or an explicit Connect redials.
func (r *RCON) Command(ctx context.Context, cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.connectLocked(ctx); err != nil {
		return "", err
	}
	resp, err := r.conn.Execute(cmd)
	if err != nil {
		if errors.Is(err, rcon.ErrCommandTooLong) || errors.Is(err, rcon.ErrCommandEmpty) {
			return "", fmt.Errorf("transport: %w: %w", err, apperr.ErrSemanticRejection)
		}
		_ = r.conn.Close()
		r.conn = nil
		return "", fmt.Errorf("transport: execute: %w: %w", err, apperr.ErrTransport)
	}
	return resp, nil
}

// Close closes the connection if open.
func (r *RCON) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
