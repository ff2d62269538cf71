package gtp

import (
	"context"
	"strings"
)

// Capabilities is the Engine Capability Profile described in spec §3,
// discovered once after spawn.
type Capabilities struct {
	SupportsKGSTimeSettings  bool
	SupportsKataTimeSettings bool
	SupportsFischerCapped    bool
}

// DiscoverCapabilities issues list_commands and, if advertised,
// kata-list_time_settings, and derives the Capabilities flags from the
// results. It must be called exactly once per adapter, after Spawn and
// before any game-specific commands are issued.
func DiscoverCapabilities(ctx context.Context, a *Adapter) (Capabilities, error) {
	txt, err := a.Command("list_commands", false).Wait(ctx)
	if err != nil {
		return Capabilities{}, err
	}

	commands := make(map[string]bool)
	for _, line := range strings.Split(txt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			commands[line] = true
		}
	}

	caps := Capabilities{
		SupportsKGSTimeSettings:  commands["kgs-time_settings"],
		SupportsKataTimeSettings: commands["kata-time_settings"] || commands["kata-list_time_settings"],
	}

	if commands["kata-list_time_settings"] {
		listTxt, err := a.Command("kata-list_time_settings", false).Wait(ctx)
		if err == nil && strings.Contains(listTxt, "fischer-capped") {
			caps.SupportsFischerCapped = true
		}
	}

	return caps, nil
}
