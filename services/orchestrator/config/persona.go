// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/mindwell-ai/mindwell/pkg/logging"
)

// defaultSystemPrompt is used when no persona file is configured. It
// keeps the assistant supportive and grounded without clinical claims.
const defaultSystemPrompt = `You are Mindwell, a warm, attentive companion for reflective conversation.
Listen carefully, respond with empathy, and keep answers concise.
Ground your responses in what the user has actually shared.
You are not a medical professional and must not present yourself as one.
If the user appears to be in crisis, gently encourage them to contact
local emergency services or a crisis hotline.`

// Persona is the operator-editable identity of the assistant.
type Persona struct {
	// Name is used in logs and the CLI greeting.
	Name string `yaml:"name"`

	// SystemPrompt is prepended to every generation request.
	SystemPrompt string `yaml:"system_prompt"`

	// Style holds optional short directives appended after the
	// system prompt, one line each.
	Style []string `yaml:"style"`
}

// PersonaProvider serves the current persona and hot-reloads it when
// the backing file changes on disk.
//
// # Thread Safety
//
// Current() may be called concurrently with reloads; the persona value
// is swapped atomically under a read-write mutex.
type PersonaProvider struct {
	path    string
	logger  *logging.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Persona
}

// NewPersonaProvider loads the persona from path and begins watching
// the file for changes. An empty path yields a static provider with
// the built-in default persona.
func NewPersonaProvider(path string, logger *logging.Logger) (*PersonaProvider, error) {
	if logger == nil {
		panic("NewPersonaProvider: logger is required")
	}
	p := &PersonaProvider{
		path:   path,
		logger: logger,
		current: Persona{
			Name:         "Mindwell",
			SystemPrompt: defaultSystemPrompt,
		},
	}
	if path == "" {
		return p, nil
	}

	if err := p.reload(); err != nil {
		return nil, fmt.Errorf("loading persona %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating persona watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching persona %s: %w", path, err)
	}
	p.watcher = watcher
	go p.watch()
	return p, nil
}

// Current returns the persona in effect right now.
func (p *PersonaProvider) Current() Persona {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Close stops the file watcher.
func (p *PersonaProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}

func (p *PersonaProvider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	var persona Persona
	if err := yaml.Unmarshal(data, &persona); err != nil {
		return fmt.Errorf("parsing persona yaml: %w", err)
	}
	if persona.SystemPrompt == "" {
		return fmt.Errorf("persona file %s has empty system_prompt", p.path)
	}
	if persona.Name == "" {
		persona.Name = "Mindwell"
	}

	p.mu.Lock()
	p.current = persona
	p.mu.Unlock()
	return nil
}

// watch applies file changes as they land. A bad edit keeps the
// previous persona in effect and logs a warning.
func (p *PersonaProvider) watch() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := p.reload(); err != nil {
				p.logger.Warn("persona reload failed, keeping previous",
					"path", p.path,
					"error", err.Error(),
				)
				continue
			}
			p.logger.Info("persona reloaded", "path", p.path, "name", p.Current().Name)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("persona watcher error", "error", err.Error())
		}
	}
}
