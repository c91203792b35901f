// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// HeaderConfig groups the optional parameters for the chat header.
//
// # Fields
//
//   - Persona: Assistant persona name shown in the header.
//   - ConversationID: Conversation identifier for resume. Empty for new
//     conversations.
//   - ServerURL: Orchestrator base URL (shown in full personality only).
//   - Emotion: Emotion hint passed with each message, if set.
type HeaderConfig struct {
	Persona        string
	ConversationID string
	ServerURL      string
	Emotion        string
}

// ConversationStats aggregates metrics from a chat session for display.
//
// # Fields
//
//   - MessageCount: Number of user messages sent
//   - TotalChunks: Total response chunks received
//   - SourcesUsed: Number of unique sources referenced
//   - Duration: Total session duration
//   - FirstResponseLatency: Time to first chunk of first response
type ConversationStats struct {
	MessageCount         int
	TotalChunks          int
	SourcesUsed          int
	Duration             time.Duration
	FirstResponseLatency time.Duration
}

// ChatUI defines the interface for chat user interface operations.
// Implementations handle rendering chat elements to different outputs.
type ChatUI interface {
	// Header displays the chat session header.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string
	Prompt() string

	// Response displays a complete assistant response (non-streaming paths)
	Response(answer string)

	// Sources displays the sources the assistant drew on
	Sources(sources []SourceInfo)

	// NoSources displays a message when no context was retrieved
	NoSources()

	// Error displays a chat error message
	Error(err error)

	// ConversationResume displays resume information
	ConversationResume(conversationID string, turnCount int)

	// ConversationEnd displays a simple goodbye with the conversation id
	ConversationEnd(conversationID string)

	// ConversationEndRich displays the session summary with statistics
	// and a resume hint. Falls back to ConversationEnd when stats is nil.
	ConversationEndRich(conversationID string, stats *ConversationStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// write is a helper that writes formatted output and handles errors.
// Errors are silently ignored as there's no meaningful recovery for terminal output.
func (u *terminalChatUI) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(u.writer, format, args...); err != nil {
		return
	}
}

// writeln is a helper that writes a line and handles errors.
func (u *terminalChatUI) writeln(args ...interface{}) {
	if _, err := fmt.Fprintln(u.writer, args...); err != nil {
		return
	}
}

// NewChatUI creates a new terminal-based ChatUI
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer (for testing)
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

// Header displays the chat session header.
func (u *terminalChatUI) Header(config HeaderConfig) {
	if u.personality == PersonalityMachine {
		parts := []string{fmt.Sprintf("persona=%s", config.Persona)}
		if config.ConversationID != "" {
			parts = append(parts, fmt.Sprintf("conversation=%s", config.ConversationID))
		}
		if config.Emotion != "" {
			parts = append(parts, fmt.Sprintf("emotion=%s", config.Emotion))
		}
		u.write("CHAT_START: %s\n", strings.Join(parts, " "))
		return
	}

	if u.personality == PersonalityMinimal {
		u.write("Chat with %s\n", config.Persona)
		if config.ConversationID != "" {
			u.write("Conversation: %s\n", config.ConversationID)
		}
		u.writeln("Type 'exit' to end.")
		return
	}

	var content strings.Builder
	content.WriteString(Styles.Highlight.Render(config.Persona))
	content.WriteString("\n")
	content.WriteString(Styles.Muted.Render("A private space to talk things through."))

	if config.ConversationID != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Conversation: %s", Styles.Muted.Render(config.ConversationID)))
	}
	if config.Emotion != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Feeling: %s", Styles.Subtitle.Render(config.Emotion)))
	}
	if config.ServerURL != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Server: %s", Styles.Muted.Render(config.ServerURL)))
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Type 'exit' to end, '/help' for commands."))
	u.writeln()
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Response displays a complete assistant response
func (u *terminalChatUI) Response(answer string) {
	if u.personality == PersonalityMachine {
		u.write("RESPONSE: %s\n", answer)
		return
	}
	u.writeln()
	u.writeln(answer)
}

// Sources displays the sources the assistant drew on
func (u *terminalChatUI) Sources(sources []SourceInfo) {
	if len(sources) == 0 {
		return
	}

	if u.personality == PersonalityMachine {
		for _, src := range sources {
			if src.Score != 0 {
				u.write("SOURCE: %s kind=%s score=%.4f\n", src.Source, src.Kind, src.Score)
			} else {
				u.write("SOURCE: %s kind=%s\n", src.Source, src.Kind)
			}
		}
		return
	}

	u.writeln()
	if u.personality == PersonalityMinimal {
		u.writeln("Drawing on:")
		for i, src := range sources {
			u.write("  %d. %s (%s)\n", i+1, src.Source, src.Kind)
		}
		return
	}

	var content strings.Builder
	for i, src := range sources {
		kindInfo := Styles.Muted.Render(" [" + src.Kind + "]")
		scoreInfo := ""
		if src.Score != 0 {
			scoreInfo = Styles.Muted.Render(fmt.Sprintf(" (%.2f)", src.Score))
		}
		content.WriteString(fmt.Sprintf("%d. %s%s%s", i+1, src.Source, kindInfo, scoreInfo))
		if i < len(sources)-1 {
			content.WriteString("\n")
		}
	}

	boxStyle := Styles.InfoBox.Width(60)
	titleLine := Styles.Subtitle.Render("Drawing on")
	u.writeln(boxStyle.Render(titleLine + "\n" + content.String()))
}

// NoSources displays a message when no context was retrieved
func (u *terminalChatUI) NoSources() {
	if u.personality == PersonalityMachine {
		u.writeln("SOURCES: none")
		return
	}
	if u.personality != PersonalityMinimal {
		u.writeln(Styles.Muted.Render("(Nothing remembered yet for this topic)"))
	}
}

// Error displays a chat error message
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Chat error: %v", err)))
}

// ConversationResume displays resume information
func (u *terminalChatUI) ConversationResume(conversationID string, turnCount int) {
	if u.personality == PersonalityMachine {
		u.write("CONVERSATION_RESUME: conversation=%s turns=%d\n", conversationID, turnCount)
		return
	}
	u.write("%s %s\n", IconSuccess.Render(),
		Styles.Success.Render(fmt.Sprintf("Picking up conversation %s (%d earlier messages)", conversationID, turnCount)))
}

// ConversationEnd displays a simple goodbye with the conversation id.
func (u *terminalChatUI) ConversationEnd(conversationID string) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_END: conversation=%s\n", conversationID)
		return
	}
	if conversationID != "" {
		u.writeln(Styles.Muted.Render(fmt.Sprintf("Conversation: %s", conversationID)))
	}
	u.writeln("Take care of yourself.")
}

// ConversationEndRich displays the session summary with statistics.
//
// # Description
//
// Shows the conversation id, accumulated statistics and the command to
// pick the conversation up later. This is the full session-end
// experience; machine and minimal personalities get compact variants.
func (u *terminalChatUI) ConversationEndRich(conversationID string, stats *ConversationStats) {
	if stats == nil {
		u.ConversationEnd(conversationID)
		return
	}

	if u.personality == PersonalityMachine {
		u.write("CHAT_END: conversation=%s messages=%d chunks=%d duration=%s\n",
			conversationID, stats.MessageCount, stats.TotalChunks, stats.Duration.Round(time.Millisecond))
		return
	}

	if u.personality == PersonalityMinimal {
		u.writeln()
		if conversationID != "" {
			u.write("Conversation: %s\n", conversationID)
		}
		u.write("Messages: %d | Duration: %s\n",
			stats.MessageCount, formatDuration(stats.Duration))
		u.writeln("Take care of yourself.")
		return
	}

	u.writeln()

	var content strings.Builder
	content.WriteString(Styles.Subtitle.Render("Session Summary"))
	content.WriteString("\n\n")

	if conversationID != "" {
		content.WriteString(fmt.Sprintf("  %s  %s\n",
			Styles.Muted.Render("ID:"),
			Styles.Highlight.Render(conversationID)))
	}

	content.WriteString("\n")
	content.WriteString(fmt.Sprintf("  %s  %d messages exchanged\n",
		IconChat.Render(), stats.MessageCount))
	if stats.SourcesUsed > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d memories and documents referenced\n",
			IconMemory.Render(), stats.SourcesUsed))
	}
	content.WriteString(fmt.Sprintf("  %s  %s together\n",
		IconTime.Render(), formatDuration(stats.Duration)))
	if stats.FirstResponseLatency > 0 {
		content.WriteString(fmt.Sprintf("  %s  %s to first response\n",
			Styles.Muted.Render("⚡"), formatDuration(stats.FirstResponseLatency)))
	}

	if conversationID != "" {
		content.WriteString("\n")
		content.WriteString(Styles.Subtitle.Render("Continue Later"))
		content.WriteString("\n\n")
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Muted.Render("Pick this conversation back up:")))
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Success.Render(fmt.Sprintf("mindwell chat --conversation %s", conversationID))))
	}

	// Width 68 accommodates the resume command (a 36 char UUID plus padding)
	boxStyle := Styles.Box.Width(68)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Highlight.Render("Take care of yourself."))
}

// formatDuration formats a duration for human-readable display.
//
// # Examples
//
//	formatDuration(500*time.Millisecond) // "500ms"
//	formatDuration(5*time.Second)        // "5.0s"
//	formatDuration(90*time.Second)       // "1m 30s"
//	formatDuration(2*time.Hour)          // "2h 0m"
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// formatRelativeTime converts a Unix milliseconds timestamp to a
// relative time string like "2h ago" or "3 days ago". Returns the date
// for anything older than a month.
func formatRelativeTime(unixMs int64) string {
	if unixMs == 0 {
		return "unknown"
	}

	t := time.UnixMilli(unixMs)
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	}
	if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	}
	if diff < 7*24*time.Hour {
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
	if diff < 30*24*time.Hour {
		weeks := int(diff.Hours() / (24 * 7))
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	}

	return t.Format("Jan 2, 2006")
}

// FormatRelativeTime exposes relative time formatting to CLI commands
// (conversation lists, document listings).
func FormatRelativeTime(unixMs int64) string {
	return formatRelativeTime(unixMs)
}
