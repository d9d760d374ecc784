package host

import (
	"github.com/idlehands/idlehands/internal/config"
	"github.com/idlehands/idlehands/pkg/channels"
	"github.com/idlehands/idlehands/pkg/channels/imessage"
	"github.com/idlehands/idlehands/pkg/channels/line"
	"github.com/idlehands/idlehands/pkg/channels/mattermost"
	"github.com/idlehands/idlehands/pkg/channels/slack"
	"github.com/idlehands/idlehands/pkg/channels/twitch"
)

// buildPluginSpecs maps configured channel sections onto the built-in
// adapters. Only sections present in the config are registered.
func buildPluginSpecs(cfg *config.Config) []channels.PluginSpec {
	var specs []channels.PluginSpec
	for _, name := range []string{"slack", "mattermost", "twitch", "imessage", "line"} {
		section, ok := cfg.Channels[name]
		if !ok {
			continue
		}
		var plugin channels.Plugin
		switch name {
		case "slack":
			plugin = slack.NewWithConfig(section)
		case "mattermost":
			plugin = mattermost.NewWithConfig(section)
		case "twitch":
			plugin = twitch.NewWithConfig(section)
		case "imessage":
			if _, ok := section["dataDir"]; !ok {
				section["dataDir"] = cfg.DataDir
			}
			plugin = imessage.NewWithConfig(section)
		case "line":
			plugin = line.NewWithConfig(section)
		}
		specs = append(specs, channels.PluginSpec{Plugin: plugin, Config: section})
	}
	return specs
}
