package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	colorProgress = 0x5865F2
	colorSuccess  = 0x57F287
	colorError    = 0xED4245

	footerText = "reelsave"
)

func formatSize(bytes int64) string {
	if bytes <= 0 {
		return "Unknown"
	}
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}
	if bytes < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	total := int(seconds + 0.5)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func progressEmbed(title, message string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: message,
		Color:       colorProgress,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}
}

func successEmbed(meta *fetchResponse, fileSize int64, downloadURL string) *discordgo.MessageEmbed {
	title := "Saved"
	if meta.Title != "" {
		title = meta.Title
	}

	fields := []*discordgo.MessageEmbedField{}
	if meta.Username != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Account", Value: "@" + meta.Username, Inline: true,
		})
	}
	if meta.Type != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Type", Value: strings.ToUpper(meta.Type[:1]) + meta.Type[1:], Inline: true,
		})
	}
	if d := formatDuration(meta.Duration); d != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Length", Value: d, Inline: true,
		})
	}
	if fileSize > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Size", Value: formatSize(fileSize), Inline: true,
		})
	}
	if downloadURL != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Download", Value: fmt.Sprintf("[Click here](%s)\nLink expires in 30 minutes.", downloadURL),
		})
	}

	embed := &discordgo.MessageEmbed{
		Title:  title,
		URL:    meta.URL,
		Color:  colorSuccess,
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{Text: footerText},
	}
	if meta.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: meta.Thumbnail}
	}
	return embed
}

func errorEmbed(title, message string) *discordgo.MessageEmbed {
	if message == "" {
		message = "Something went wrong"
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: message,
		Color:       colorError,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Check the link is a public Instagram post"},
	}
}
