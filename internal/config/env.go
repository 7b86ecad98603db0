package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is the dotenv file loaded when no --env-file is given.
const DefaultEnvFile = ".env"

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing default file
// is not an error; a missing explicit file is. Returns the path loaded, or
// empty string when nothing was read.
func LoadEnvFile(path string, log *slog.Logger) (string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config: env file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("config: env file %s is not a regular file", path)
	}

	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("config: failed to load env file %s: %w", path, err)
	}
	log.Debug("config: loaded env file", slog.String("path", path))
	return path, nil
}
