package alerts

import (
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/coah80/reelsave/internal/config"
)

var (
	mu                sync.Mutex
	categoryCooldowns = make(map[string]time.Time)

	sessionOnce sync.Once
	session     *discordgo.Session
)

const (
	colorOrange = 0xFFA500
	colorRed    = 0xFF4444
	colorCrit   = 0xFF0000
	colorGreen  = 0x2ECC71
)

// ParseWebhookURL splits https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("not a Discord webhook URL")
}

func webhookSession() *discordgo.Session {
	sessionOnce.Do(func() {
		s, err := discordgo.New("")
		if err != nil {
			log.Printf("[Discord] session init failed: %v", err)
			return
		}
		session = s
	})
	return session
}

// allow applies the per-category cooldown.
func allow(category string, cooldown time.Duration, now time.Time) bool {
	mu.Lock()
	defer mu.Unlock()
	if cooldown > 0 {
		if last, ok := categoryCooldowns[category]; ok && now.Sub(last) < cooldown {
			return false
		}
	}
	categoryCooldowns[category] = now
	return true
}

func buildEmbed(color int, title, description string, fields map[string]string, now time.Time) *discordgo.MessageEmbed {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var embedFields []*discordgo.MessageEmbedField
	for _, k := range keys {
		v := fields[k]
		if v == "" {
			continue
		}
		embedFields = append(embedFields, &discordgo.MessageEmbedField{Name: k, Value: truncate(v, 1024), Inline: true})
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: truncate(description, 2048),
		Color:       color,
		Fields:      embedFields,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "reelsave"},
	}
}

func send(category string, cooldown time.Duration, ping bool, color int, title, description string, fields map[string]string) {
	if !config.DiscordAlerts || config.DiscordWebhookURL == "" {
		return
	}

	now := time.Now()
	if !allow(category, cooldown, now) {
		return
	}

	id, token, err := ParseWebhookURL(config.DiscordWebhookURL)
	if err != nil {
		log.Printf("[Discord] %v", err)
		return
	}
	s := webhookSession()
	if s == nil {
		return
	}

	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{buildEmbed(color, title, description, fields, now)},
	}
	if ping && config.DiscordPingUserID != "" {
		params.Content = fmt.Sprintf("<@%s>", config.DiscordPingUserID)
	}

	go func() {
		if _, err := s.WebhookExecute(id, token, false, params); err != nil {
			log.Printf("[Discord] send failed: %v", err)
		}
	}()
}

func ServerStarted() {
	send("server-start", 0, false, colorGreen, "Server Started", fmt.Sprintf("reelsave %s listening on :%s", config.Version, config.Port), nil)
}

func ServerStopping() {
	send("server-stop", 0, false, colorOrange, "Server Stopping", "reelsave is shutting down", nil)
}

// ForbiddenSource fires when a stored token pointed outside the CDN
// allow-list and was revoked.
func ForbiddenSource(tokenPrefix, host string) {
	send("forbidden-source", 30*time.Second, true, colorCrit, "Forbidden Download Source",
		"A download token resolved to a host outside the CDN allow-list and was revoked.",
		map[string]string{
			"Token": tokenPrefix + "...",
			"Host":  truncate(host, 200),
		})
}

// ResolverBlocked fires when Instagram refuses the resolver (login wall, 401).
func ResolverBlocked(postURL string, err error) {
	send("resolver-blocked", 60*time.Second, true, colorOrange, "Instagram Blocking Requests", err.Error(), map[string]string{
		"URL":   truncate(postURL, 200),
		"Error": truncate(err.Error(), 500),
	})
}

func ResolverFailed(postURL string, err error) {
	send("resolver", 10*time.Second, false, colorRed, "Cobalt All Instances Failed", err.Error(), map[string]string{
		"URL":   truncate(postURL, 200),
		"Error": truncate(err.Error(), 500),
	})
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
