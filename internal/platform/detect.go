package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "voxnote"

type Runtime struct {
	OS   string
	Arch string
}

func CurrentRuntime() Runtime {
	return Runtime{
		OS:   runtime.GOOS,
		Arch: NormalizeArch(runtime.GOARCH),
	}
}

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

// Layout is the set of app-private locations derived from one data directory.
type Layout struct {
	DataDir      string
	RecordingDir string
	DatabasePath string
	ConfigPath   string
}

func LayoutFor(dataDir string) Layout {
	dataDir = filepath.Clean(dataDir)
	return Layout{
		DataDir:      dataDir,
		RecordingDir: filepath.Join(dataDir, "recordings"),
		DatabasePath: filepath.Join(dataDir, appName+".db"),
		ConfigPath:   filepath.Join(dataDir, "config.yaml"),
	}
}

func DefaultDataDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, appName), nil
		}
		return filepath.Join(homeDir, ".local", "share", appName), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

func ResolveDataDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultDataDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

// EnsureLayout creates the data and recording directories.
func EnsureLayout(layout Layout) error {
	for _, dir := range []string{layout.DataDir, layout.RecordingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
