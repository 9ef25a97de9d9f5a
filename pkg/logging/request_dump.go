package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteRequestDump saves a provider request payload that ended in an error so
// it can be replayed by hand. It returns the path written.
func WriteRequestDump(dir, provider, model string, payload []byte, cause error) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dump directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dump directory: %w", err)
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"provider":  provider,
		"model":     model,
	}
	if cause != nil {
		entry["error"] = cause.Error()
	}
	if json.Valid(payload) {
		entry["request"] = json.RawMessage(payload)
	} else {
		entry["request"] = string(payload)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("error_request_%s_%s.json", provider, time.Now().Format("20060102_150405.000000000"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
