// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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
)

const appDir = "pollgate"

// xdgDir returns $envVar/pollgate, or ~/<fallback>/pollgate when the
// variable is unset.
func xdgDir(envVar string, fallback ...string) (string, error) {
	if base := os.Getenv(envVar); base != "" {
		return filepath.Join(base, appDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), appDir)...), nil
}

// ConfigDir returns $XDG_CONFIG_HOME/pollgate, defaulting to
// ~/.config/pollgate. The directory is not created.
func ConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// ConfigPath returns the default config file location.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// defaultDataDir is where the embedded cursor store lives. The sqlite
// backend creates it on open.
func defaultDataDir() string {
	dir, err := xdgDir("XDG_DATA_HOME", ".local", "share")
	if err != nil {
		return filepath.Join(os.TempDir(), "pollgate-data")
	}
	return dir
}
