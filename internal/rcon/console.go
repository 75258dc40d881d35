// Package rcon talks to the game server's remote console.
package rcon

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorcon/rcon"
)

const (
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 25575
	DefaultTimeout = 5 * time.Second
)

// Conn is an open console session.
type Conn interface {
	Execute(command string) (string, error)
	Close() error
}

// Dialer opens console sessions.
type Dialer func(address, password string, timeout time.Duration) (Conn, error)

// Dial connects with gorcon.
func Dial(address, password string, timeout time.Duration) (Conn, error) {
	conn, err := rcon.Dial(address, password, rcon.SetDialTimeout(timeout), rcon.SetDeadline(timeout))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Console runs commands on the server, opening a fresh connection for each
// so a restarted server never leaves a stale session behind.
type Console struct {
	address  string
	password string
	timeout  time.Duration
	dial     Dialer
}

// Option configures a Console.
type Option func(*Console)

// WithTimeout bounds dialing and each command.
func WithTimeout(d time.Duration) Option {
	return func(c *Console) {
		c.timeout = d
	}
}

// WithDialer replaces the network dialer.
func WithDialer(dial Dialer) Option {
	return func(c *Console) {
		c.dial = dial
	}
}

// New returns a Console for host:port.
func New(host string, port int, password string, opts ...Option) *Console {
	c := &Console{
		address:  net.JoinHostPort(host, strconv.Itoa(port)),
		password: password,
		timeout:  DefaultTimeout,
		dial:     Dial,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns host:port.
func (c *Console) Address() string {
	return c.address
}

// Run executes command and returns the server's reply.
func (c *Console) Run(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := c.dial(c.address, c.password, timeout)
	if err != nil {
		return "", fmt.Errorf("failed to connect to remote console at %s: %w\nCheck that the server is running with enable-rcon=true", c.address, err)
	}
	defer conn.Close()

	reply, err := conn.Execute(command)
	if err != nil {
		return "", fmt.Errorf("failed to run %q on remote console: %w", command, err)
	}

	return reply, nil
}

// ListPlayers returns the names of the players currently online.
func (c *Console) ListPlayers(ctx context.Context) ([]string, error) {
	reply, err := c.Run(ctx, "list")
	if err != nil {
		return nil, err
	}
	return ParsePlayers(reply), nil
}

var formatting = regexp.MustCompile(`§.`)

// ParsePlayers extracts player names from the reply to "list", e.g.
// "There are 2 of a max of 20 players online: Alex, Steve".
func ParsePlayers(reply string) []string {
	_, names, ok := strings.Cut(formatting.ReplaceAllString(reply, ""), ":")
	if !ok {
		return nil
	}

	var players []string
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name != "" {
			players = append(players, name)
		}
	}
	return players
}
