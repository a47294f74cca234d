package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"family-alert-go/pkg/logger"
	"github.com/joho/godotenv"
)

const (
	dotenvFilename      = ".env"
	dotenvLocalFilename = ".env.local"
)

// loadDotEnv fills unset variables from env files. ENV_FILE names one file
// explicitly; otherwise the nearest directory holding a .env is used, with
// .env.local next to it taking precedence. The process environment always wins.
func loadDotEnv(log logger.Logger) error {
	paths, err := dotenvPaths()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}

	values, err := godotenv.Read(paths...)
	if err != nil {
		return fmt.Errorf("read %s: %w", strings.Join(paths, ", "), err)
	}

	var loaded, skipped int
	for key, value := range values {
		if _, exists := os.LookupEnv(key); exists {
			skipped++
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
		loaded++
	}

	log.Info("dotenv: applied", "files", paths, "loaded", loaded, "skipped", skipped)
	return nil
}

func dotenvPaths() ([]string, error) {
	if explicit := strings.TrimSpace(os.Getenv("ENV_FILE")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("ENV_FILE: %w", err)
		}
		return []string{explicit}, nil
	}

	dir, ok, err := nearestDirWith(dotenvFilename)
	if err != nil || !ok {
		return nil, err
	}

	paths := []string{filepath.Join(dir, dotenvFilename)}
	if isFile(filepath.Join(dir, dotenvLocalFilename)) {
		paths = append(paths, filepath.Join(dir, dotenvLocalFilename))
	}
	return paths, nil
}

func nearestDirWith(filename string) (string, bool, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false, err
	}

	for {
		if isFile(filepath.Join(dir, filename)) {
			return dir, true, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
