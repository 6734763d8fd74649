package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const envTunerOutputDir = "TUNER_OUTPUT_DIR"

// resolveOutDir picks the artifact directory: --out when given, else
// <base>/<runID> where base comes from TUNER_OUTPUT_DIR, the config file
// or ./out, in that order.
func resolveOutDir(outFlag, configDir, runID string) (string, error) {
	if out := strings.TrimSpace(outFlag); out != "" {
		return filepath.Clean(out), nil
	}
	if strings.TrimSpace(runID) == "" {
		return "", errors.New("run id is empty")
	}
	base := strings.TrimSpace(os.Getenv(envTunerOutputDir))
	if base == "" {
		base = strings.TrimSpace(configDir)
	}
	if base == "" {
		base = filepath.Join(".", "out")
	}
	return filepath.Join(base, runID), nil
}

// requireDir checks that path is an existing directory.
func requireDir(flag, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("--%s is required", flag)
	}
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("--%s: %s is not a directory", flag, path)
	}
	return nil
}
