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

// Package listener opens the API listener on a TCP address or Unix socket.
package listener

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// parse splits addr into a network and a network-specific address.
// unix:///path selects a socket, tcp:// or a bare host:port selects TCP.
func parse(addr string) (network, address string) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		return "unix", path
	}
	return "tcp", strings.TrimPrefix(addr, "tcp://")
}

// New binds addr. Unix sockets are created owner-only and replace any
// stale socket at the same path.
func New(addr string) (net.Listener, error) {
	if addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	network, address := parse(addr)
	if network == "unix" {
		return listenUnix(address)
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	return ln, nil
}

func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// IsRemote reports whether addr accepts connections from other hosts.
// Unix sockets and loopback addresses are local; wildcard binds are not.
func IsRemote(addr string) bool {
	network, address := parse(addr)
	if network == "unix" {
		return false
	}

	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	if host == "localhost" {
		return false
	}
	ip := net.ParseIP(host)
	return ip == nil || !ip.IsLoopback()
}
