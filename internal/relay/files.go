package relay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ryanmoran/worldsync/internal/atomicfile"
)

// writeJSON publishes v at path in one step, so a reader listing *.json
// never sees a partial file.
func writeJSON(path string, v any) error {
	content, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", path, err)
	}

	return atomicfile.Write(path, content)
}

func readJSON(path string, v any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("failed to decode %q: %w", path, err)
	}

	return nil
}
