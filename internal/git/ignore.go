package git

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFile is the exclusion file consulted before staging.
const IgnoreFile = ".gitignore"

// EnsureIgnored appends entry to the workdir's .gitignore unless a line
// already equals it, creating the file when missing.
func EnsureIgnored(workdir, entry string) error {
	path := filepath.Join(workdir, IgnoreFile)

	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %q: %w", path, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == entry {
			return nil
		}
	}

	var line string
	if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
		line = "\n"
	}
	line += entry + "\n"

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("failed to append %q to %q: %w", entry, path, err)
	}

	return nil
}
