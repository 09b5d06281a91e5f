package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckExisting returns an error listing the scaffold files already present in dir.
func CheckExisting(dir string) error {
	var existing []string
	for _, name := range []string{ConfigFile, ComposeFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			existing = append(existing, name)
		}
	}

	if len(existing) == 0 {
		return nil
	}

	return fmt.Errorf("already initialized: found %s (use --force to overwrite)", strings.Join(existing, ", "))
}
