// Package props reads and writes the flat key=value server.properties file
// and enforces the settings the controller depends on before every run.
package props

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// FileName is the server configuration file kept out of every commit.
	FileName = "server.properties"

	// DefaultServerPort is reported when server.properties does not set one.
	DefaultServerPort = 25565
)

// Properties is an ordered key=value set. Keys keep the order in which they
// were first read or set so rewrites produce minimal diffs.
type Properties struct {
	keys   []string
	values map[string]string
}

// New returns an empty property set.
func New() *Properties {
	return &Properties{values: make(map[string]string)}
}

// Get returns the value for key and whether it was present.
func (p *Properties) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Set stores value under key, appending the key if it is new.
func (p *Properties) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Keys returns the keys in file order.
func (p *Properties) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Len returns the number of keys.
func (p *Properties) Len() int {
	return len(p.keys)
}

// Read parses the file at path. A missing file yields an empty set. Blank
// lines, comments and lines without '=' are skipped; the first '=' splits
// key from value and both sides are trimmed.
func Read(path string) (*Properties, error) {
	p := New()

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read properties %q: %w", path, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		p.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse properties %q: %w", path, err)
	}

	return p, nil
}

// Write replaces the file at path with one k=v line per key.
func Write(path string, p *Properties) error {
	var buf bytes.Buffer
	for _, key := range p.keys {
		fmt.Fprintf(&buf, "%s=%s\n", key, p.values[key])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", path, err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write properties %q: %w", path, err)
	}

	return nil
}

// EnsureRemoteConsole makes sure the server in dir starts with the remote
// console enabled on port with password, and that the EULA is accepted.
// server.properties is rewritten only when a value had to change. It returns
// the configured game port.
func EnsureRemoteConsole(dir string, port int, password string) (int, error) {
	path := filepath.Join(dir, FileName)
	p, err := Read(path)
	if err != nil {
		return 0, err
	}

	changed := false
	if v, _ := p.Get("enable-rcon"); !strings.EqualFold(v, "true") {
		p.Set("enable-rcon", "true")
		changed = true
	}
	if v, _ := p.Get("rcon.port"); v != strconv.Itoa(port) {
		p.Set("rcon.port", strconv.Itoa(port))
		changed = true
	}
	if v, _ := p.Get("rcon.password"); v != password {
		p.Set("rcon.password", password)
		changed = true
	}

	if changed {
		if err := Write(path, p); err != nil {
			return 0, err
		}
	}

	err = os.WriteFile(filepath.Join(dir, "eula.txt"), []byte("eula=true\n"), 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to accept eula in %q: %w", dir, err)
	}

	serverPort := DefaultServerPort
	if v, ok := p.Get("server-port"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid server-port %q in %q: %w", v, path, err)
		}
		serverPort = n
	}

	return serverPort, nil
}
