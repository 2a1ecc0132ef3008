package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// instanceNamespace scopes derived instance IDs.
var instanceNamespace = uuid.MustParse("6f1e7d2a-7c1b-4d8e-9a55-3f0c2b9e4a10")

// InstanceID returns the stable HA device identifier. When dataDir is
// set the ID is a UUIDv7 persisted in dataDir/instance_id, created on
// first use. Without a dataDir it is derived from the router address,
// so restarts against the same router keep the same HA device.
func InstanceID(dataDir, routerHost string) (string, error) {
	if dataDir == "" {
		return uuid.NewSHA1(instanceNamespace, []byte(strings.ToLower(routerHost))).String(), nil
	}

	path := filepath.Join(dataDir, "instance_id")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return id.String(), nil
}
