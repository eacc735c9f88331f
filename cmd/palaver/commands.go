// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"

	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// CodeBadCommand marks a host command that could not be parsed.
const CodeBadCommand = "BAD_COMMAND"

const helpText = `commands:
  <text>                       send text through the filter pipelines
  /load <name> [capability]    load a trusted plugin (default TextFilter)
  /plugins                     list loaded plugins and filters
  /poll <title> | <a> | <b>... create a poll
  /vote <title> | <option>     vote in a poll
  /close <title>               close a poll
  /delete <title>              delete a poll
  /results <title>             show the last tally seen
  /help                        show this text`

type commandKind int

const (
	cmdEmpty commandKind = iota
	cmdSay
	cmdHelp
	cmdLoad
	cmdPlugins
	cmdPoll
	cmdVote
	cmdClose
	cmdDelete
	cmdResults
)

type command struct {
	kind       commandKind
	text       string
	name       string
	capability string
	title      string
	option     string
	options    []string
}

// parseCommand turns one input line into a command. Text that does not
// start with "/" is chat.
func parseCommand(line string) (command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return command{kind: cmdEmpty}, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return command{kind: cmdSay, text: line}, nil
	}

	verb, rest, _ := strings.Cut(trimmed[1:], " ")
	rest = strings.TrimSpace(rest)
	errb := oops.Code(CodeBadCommand).With("command", verb)

	switch verb {
	case "help":
		return command{kind: cmdHelp}, nil
	case "plugins":
		return command{kind: cmdPlugins}, nil
	case "load":
		fields := strings.Fields(rest)
		switch len(fields) {
		case 1:
			return command{kind: cmdLoad, name: fields[0], capability: string(pluginpkg.CapabilityTextFilter)}, nil
		case 2:
			return command{kind: cmdLoad, name: fields[0], capability: fields[1]}, nil
		}
		return command{}, errb.Errorf("usage: /load <name> [capability]")
	case "poll":
		parts := splitArgs(rest)
		if len(parts) < 3 {
			return command{}, errb.Errorf("usage: /poll <title> | <option> | <option>...")
		}
		return command{kind: cmdPoll, title: parts[0], options: parts[1:]}, nil
	case "vote":
		parts := splitArgs(rest)
		if len(parts) != 2 {
			return command{}, errb.Errorf("usage: /vote <title> | <option>")
		}
		return command{kind: cmdVote, title: parts[0], option: parts[1]}, nil
	case "close", "delete", "results":
		if rest == "" {
			return command{}, errb.Errorf("usage: /%s <title>", verb)
		}
		kind := map[string]commandKind{"close": cmdClose, "delete": cmdDelete, "results": cmdResults}[verb]
		return command{kind: kind, title: rest}, nil
	}
	return command{}, errb.Errorf("unknown command /%s", verb)
}

// splitArgs splits on "|" and trims each part.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// formatEvent renders a poll event for the terminal.
func formatEvent(ev pluginpkg.PollEvent) string {
	switch ev.Type {
	case pluginpkg.PollCreated:
		return fmt.Sprintf("* poll %q opened: %s", ev.Title, strings.Join(ev.Options, ", "))
	case pluginpkg.PollUpdated:
		parts := make([]string, len(ev.Results))
		for i, r := range ev.Results {
			parts[i] = fmt.Sprintf("%s=%d", r.Option, r.Count)
		}
		return fmt.Sprintf("* poll %q: %s", ev.Title, strings.Join(parts, " "))
	case pluginpkg.PollClosed:
		return fmt.Sprintf("* poll %q closed", ev.Title)
	case pluginpkg.PollDeleted:
		return fmt.Sprintf("* poll %q deleted", ev.Title)
	case pluginpkg.PollError:
		return fmt.Sprintf("! %s: %s", ev.Code, ev.Message)
	}
	return fmt.Sprintf("* %s %q", ev.Type, ev.Title)
}
