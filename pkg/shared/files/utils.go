package files

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ExpandPath resolves paths that include a tilde (~) to the user's home directory.
func ExpandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, p[2:]), nil
	}
	return p, nil
}

// CreateFolderIfNotExists checks if a folder exists, and if not, creates it.
func CreateFolderIfNotExists(fs afero.Fs, folder string) error {
	exists, err := afero.DirExists(fs, folder)
	if err != nil {
		return fmt.Errorf("unable to check folder %q: %w", folder, err)
	}
	if exists {
		return nil
	}
	if err := fs.MkdirAll(folder, os.ModePerm); err != nil {
		return fmt.Errorf("unable to create folder %q: %w", folder, err)
	}
	return nil
}

// WriteFile writes data to the file, creating parent folders when needed.
func WriteFile(fs afero.Fs, outputFile string, data []byte) error {
	if err := CreateFolderIfNotExists(fs, filepath.Dir(outputFile)); err != nil {
		return err
	}
	if err := afero.WriteFile(fs, outputFile, data, 0644); err != nil {
		return fmt.Errorf("error writing data to file %q: %w", outputFile, err)
	}
	return nil
}

// CleanRelative normalizes a repository-relative slash path and rejects paths
// that escape the repository root.
func CleanRelative(p string) (string, error) {
	slashed := filepath.ToSlash(p)
	for _, segment := range strings.Split(slashed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("path %q escapes the repository root", p)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if cleaned == "" {
		return "", fmt.Errorf("path %q is empty", p)
	}
	return cleaned, nil
}

// EnsureWithinRoot resolves target and checks that it stays inside root.
func EnsureWithinRoot(root, target string) (string, error) {
	if root == "" {
		return filepath.Clean(target), nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", target, err)
	}

	rel, err := filepath.Rel(absRoot, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes root %q", absTarget, absRoot)
	}

	return absTarget, nil
}
