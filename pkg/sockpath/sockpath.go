// Package sockpath provides the default Unix socket path for the gleand daemon.
// gleand and gleanctl use this to agree on the default.
package sockpath

import (
	"os"
	"path/filepath"
)

// DefaultSocketPath returns the default path for the gleand Unix socket.
// It prefers $XDG_RUNTIME_DIR/gleanrelay/gleand.sock, falling back to
// ~/.config/gleanrelay/gleand.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "gleanrelay", "gleand.sock")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gleanrelay", "gleand.sock")
}
