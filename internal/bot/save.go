package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	maxDiscordFileSize = 25 * 1024 * 1024
	saveTimeout        = 3 * time.Minute
	defaultFileName    = "instagram-video.mp4"
)

// saveResult is the final message for a /save interaction. data is nil when
// the video is delivered as a link.
type saveResult struct {
	embed    *discordgo.MessageEmbed
	fileName string
	data     []byte
}

func (b *Bot) handleSave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	rawURL := ""
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "url" {
			rawURL = opt.StringValue()
		}
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		log.Printf("[Bot] Failed to defer save response: %v", err)
		return
	}

	go b.processSave(s, i, rawURL)
}

func (b *Bot) processSave(s *discordgo.Session, i *discordgo.InteractionCreate, rawURL string) {
	postURL := normalizeURL(rawURL)
	editEmbed(s, i, progressEmbed("Fetching...", postURL))

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	res := b.save(ctx, postURL)
	if res.data != nil {
		editWithFile(s, i, res.embed, res.fileName, res.data)
		return
	}
	editEmbed(s, i, res.embed)
}

// save resolves postURL through the API and decides how to deliver it:
// attached when it fits the upload limit, otherwise as a public link.
func (b *Bot) save(ctx context.Context, postURL string) saveResult {
	meta, err := b.api.fetchVideo(ctx, postURL)
	if err != nil {
		log.Printf("[Bot] Fetch failed for %s: %v", postURL, err)
		return saveResult{embed: apiErrorEmbed(err)}
	}

	link := b.api.publicDownloadURL(meta.DownloadURL)

	data, fileName, err := b.api.downloadFile(ctx, meta.DownloadURL, maxDiscordFileSize)
	if err != nil {
		// The API answered but refused the token; the link would fail the same way.
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			log.Printf("[Bot] Download refused for %s: %v", postURL, err)
			return saveResult{embed: apiErrorEmbed(err)}
		}
		if !errors.Is(err, errTooLarge) {
			log.Printf("[Bot] File download failed, sending link: %v", err)
		}
		return saveResult{embed: successEmbed(meta, 0, link)}
	}
	if fileName == "" {
		fileName = defaultFileName
	}

	return saveResult{
		embed:    successEmbed(meta, int64(len(data)), ""),
		fileName: fileName,
		data:     data,
	}
}

func apiErrorEmbed(err error) *discordgo.MessageEmbed {
	title := "Couldn't save that"
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Title != "" {
		title = apiErr.Title
	}
	return errorEmbed(title, err.Error())
}

func editEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	}); err != nil {
		log.Printf("[Bot] Failed to edit response: %v", err)
	}
}

func editWithFile(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, filename string, data []byte) {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
		Files: []*discordgo.File{
			{
				Name:        filename,
				ContentType: "video/mp4",
				Reader:      bytes.NewReader(data),
			},
		},
	})
	if err != nil {
		log.Printf("[Bot] Failed to attach %s (%s): %v", filename, formatSize(int64(len(data))), err)
		editEmbed(s, i, errorEmbed("Upload failed", fmt.Sprintf("Discord rejected the %s file.", formatSize(int64(len(data))))))
	}
}
