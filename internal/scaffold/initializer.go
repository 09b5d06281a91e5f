package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/pacer/internal/config"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile and ComposeFile are the files Initialize creates.
const (
	ConfigFile  = "pacer.yml"
	ComposeFile = "compose.yml"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes a starter pacer.yml and a compose.yml running Redis into dir.
// Existing files are an error unless force is set, in which case they are replaced.
// Returns the paths written.
func Initialize(dir string, force bool) ([]string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return nil, err
		}
	}

	files, err := getTemplateFiles(dir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	var written []string
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		written = append(written, file.Path)
	}

	if err := validateCreatedFiles(dir); err != nil {
		return written, err
	}

	return written, nil
}

// getTemplateFiles reads all template files
func getTemplateFiles(dir string) ([]FileInfo, error) {
	templates := []struct {
		name string
		path string
	}{
		{"templates/pacer.yml.tmpl", ConfigFile},
		{"templates/compose.yml.tmpl", ComposeFile},
	}

	files := make([]FileInfo, 0, len(templates))
	for _, tmpl := range templates {
		content, err := templatesFS.ReadFile(tmpl.name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", tmpl.path, err)
		}
		files = append(files, FileInfo{
			Path:        filepath.Join(dir, tmpl.path),
			Content:     content,
			Permissions: 0644,
		})
	}

	return files, nil
}

// validateCreatedFiles checks that the config loads and the compose file parses.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("created %s does not load: %w", ConfigFile, err)
	}

	content, err := os.ReadFile(filepath.Join(dir, ComposeFile))
	if err != nil {
		return fmt.Errorf("failed to read created %s: %w", ComposeFile, err)
	}

	var compose map[string]interface{}
	if err := yaml.Unmarshal(content, &compose); err != nil {
		return fmt.Errorf("created %s is not valid YAML: %w", ComposeFile, err)
	}

	return nil
}
