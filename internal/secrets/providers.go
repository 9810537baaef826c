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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the default limit for file secrets (64KB).
const MaxFileSize = 64 * 1024

// EnvProvider resolves env:NAME references.
type EnvProvider struct{}

// NewEnvProvider creates an environment variable provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Scheme returns "env".
func (e *EnvProvider) Scheme() string {
	return "env"
}

// Resolve returns the variable's value. Unset and empty variables are errors.
func (e *EnvProvider) Resolve(ctx context.Context, key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", key)
	}
	if value == "" {
		return "", fmt.Errorf("environment variable %s is empty", key)
	}
	return value, nil
}

// FileProvider resolves file:/abs/path references.
type FileProvider struct {
	maxSize int64
}

// NewFileProvider creates a file provider. A maxSize of zero uses MaxFileSize.
func NewFileProvider(maxSize int64) *FileProvider {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	return &FileProvider{maxSize: maxSize}
}

// Scheme returns "file".
func (f *FileProvider) Scheme() string {
	return "file"
}

// Resolve reads the file and trims trailing whitespace.
func (f *FileProvider) Resolve(ctx context.Context, key string) (string, error) {
	if !filepath.IsAbs(key) {
		return "", errors.New("path must be absolute")
	}

	file, err := os.Open(filepath.Clean(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New("file not found")
		}
		if os.IsPermission(err) {
			return "", errors.New("permission denied")
		}
		return "", fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return "", errors.New("path is a directory")
	}
	if info.Size() > f.maxSize {
		return "", fmt.Errorf("file exceeds maximum size of %d bytes", f.maxSize)
	}

	data, err := io.ReadAll(io.LimitReader(file, f.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return "", fmt.Errorf("file exceeds maximum size of %d bytes", f.maxSize)
	}

	value := strings.TrimRight(string(data), " \t\r\n")
	if value == "" {
		return "", errors.New("file is empty")
	}
	return value, nil
}
