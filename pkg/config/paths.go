// Copyright 2026 Jeff Vestal
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the Portfolio Pilot data directory.
//
// Priority:
// 1. PORTFOLIO_PILOT_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.portfolio-pilot (default)
//
// The returned path is always absolute. Tilde (~) is expanded to the
// user's home directory and relative paths are made absolute.
//
// This reads directly from os.Getenv(), not from viper, because it is
// needed to locate the config file before the config is loaded.
func DataDir() string {
	if dataDir := os.Getenv("PORTFOLIO_PILOT_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir cannot be determined
		return ".portfolio-pilot"
	}
	return filepath.Join(homeDir, ".portfolio-pilot")
}

// DefaultDatabasePath returns the settings database location inside the
// data directory.
func DefaultDatabasePath() string {
	return filepath.Join(DataDir(), "portfolio-pilot.db")
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path // Return as-is if we can't get home dir
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path // Return as-is if we can't make it absolute
	}
	return absPath
}
