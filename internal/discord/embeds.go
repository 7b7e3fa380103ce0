package discord

import "github.com/bwmarrin/discordgo"

const ownerIconURL = "https://yes.nighty.works/raw/zReOib.webp"

const (
	colorError   = 0xE02B2B
	colorSuccess = 0x00FF00
	colorBlurple = 0x7289DA
)

func ownerEmbed(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Author: &discordgo.MessageEmbedAuthor{
			Name:    "Owner",
			IconURL: ownerIconURL,
		},
	}
}

func permissionDeniedEmbed() *discordgo.MessageEmbed {
	return ownerEmbed("Permission Denied", "You are not the owner of this bot!", colorError)
}
