// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/mindwell-ai/mindwell/pkg/ux"
	"github.com/spf13/cobra"
)

// healthReport mirrors the GET /health response.
//
// The server always answers 200 when it is up; memory_backend tells
// whether long-term storage is reachable ("ok"), unreachable
// ("degraded"), or not configured ("lightweight").
type healthReport struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	MemoryBackend string `json:"memory_backend"`
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	var report healthReport
	if err := api.get(ctx, "/health", &report); err != nil {
		log.Fatalf("Server unreachable at %s: %v", getServerBaseURL(), err)
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Printf("STATUS: %s\n", report.Status)
		fmt.Printf("MEMORY_BACKEND: %s\n", report.MemoryBackend)
		fmt.Printf("UPTIME_SECONDS: %d\n", report.UptimeSeconds)
		return
	}

	uptime := (time.Duration(report.UptimeSeconds) * time.Second).String()
	ux.Box("Mindwell Server", fmt.Sprintf("status %s, memory backend %s, up %s",
		report.Status, report.MemoryBackend, uptime))

	switch report.MemoryBackend {
	case "degraded":
		ux.Warning("long-term memory is unreachable; chat runs on recent context only")
	case "lightweight":
		ux.Info("running without a long-term memory backend")
	}
}
