package commands

import (
	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/splitbot/internal/conversation"
)

// SplitReceipt is the message context-menu command that starts a split
// from an image already posted in the channel.
const SplitReceipt = "Split this receipt"

var slashCommands = map[string]string{
	"start":   conversation.CommandStart,
	"restart": conversation.CommandRestart,
	"status":  conversation.CommandStatus,
	"help":    conversation.CommandHelp,
}

func GetCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "start",
			Description: "Start splitting a new receipt",
		},
		{
			Name:        "restart",
			Description: "Discard the current receipt and start over",
		},
		{
			Name:        "status",
			Description: "Show where you are in the current split",
		},
		{
			Name:        "help",
			Description: "Explain how receipt splitting works",
		},
		{
			Name:         SplitReceipt,
			Type:         discordgo.MessageApplicationCommand,
			DMPermission: boolPtr(false),
		},
	}
}

// TextFor maps a slash command name to the text the conversation
// understands.
func TextFor(name string) (string, bool) {
	text, ok := slashCommands[name]
	return text, ok
}

func boolPtr(b bool) *bool {
	return &b
}
