// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
)

const (
	// DefaultServerHost is the standard host for a local Mindwell server.
	DefaultServerHost = "localhost"
	// DefaultServerPort is the standard port for a local Mindwell server.
	DefaultServerPort = 8080

	// defaultPersonaName is shown in chat headers when the server
	// persona name is not known client-side.
	defaultPersonaName = "Mindwell"
)

// getServerBaseURL returns the base address of the Mindwell server.
func getServerBaseURL() string {
	// 1. Priority: --server flag
	if serverURL != "" {
		return serverURL
	}
	// 2. Environment variable (used by tests and container overrides)
	if url := os.Getenv("MINDWELL_SERVER_URL"); url != "" {
		return url
	}
	// 3. Default: standard host/port
	return fmt.Sprintf("http://%s:%d", DefaultServerHost, DefaultServerPort)
}

// getAPIToken returns the bearer token for authenticated servers.
// Empty means the server is running with authentication disabled.
func getAPIToken() string {
	return os.Getenv("MINDWELL_API_TOKEN")
}

// isExitCommand checks if the input is a command to exit the chat.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
