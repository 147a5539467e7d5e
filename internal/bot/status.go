package bot

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	statusCheckInterval = 60 * time.Second
	statusConfigFile    = "status-config.json"
)

type statusConfig struct {
	GuildChannels map[string]string `json:"guildChannels"` // guildID -> channelID
}

type siteStatus struct {
	up   bool
	code int
}

type statusMonitor struct {
	session    *discordgo.Session
	healthURL  string
	configPath string
	client     *http.Client

	mu     sync.RWMutex
	config statusConfig
	lastUp *bool

	stopOnce sync.Once
	done     chan struct{}
}

func newStatusMonitor(s *discordgo.Session, healthURL, configPath string) *statusMonitor {
	m := &statusMonitor{
		session:    s,
		healthURL:  healthURL,
		configPath: configPath,
		config:     statusConfig{GuildChannels: make(map[string]string)},
		client:     &http.Client{Timeout: 10 * time.Second},
		done:       make(chan struct{}),
	}
	m.loadConfig()
	return m
}

func (m *statusMonitor) loadConfig() {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &m.config); err != nil {
		log.Printf("[Status] Ignoring unreadable %s: %v", m.configPath, err)
	}
	if m.config.GuildChannels == nil {
		m.config.GuildChannels = make(map[string]string)
	}
}

func (m *statusMonitor) saveConfig() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.config, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(m.configPath, data, 0644)
}

func (m *statusMonitor) setChannel(guildID, channelID string) error {
	m.mu.Lock()
	m.config.GuildChannels[guildID] = channelID
	m.mu.Unlock()
	return m.saveConfig()
}

func (m *statusMonitor) checkHealth() siteStatus {
	resp, err := m.client.Get(m.healthURL)
	if err != nil {
		return siteStatus{up: false, code: 0}
	}
	defer resp.Body.Close()
	return siteStatus{up: resp.StatusCode == 200, code: resp.StatusCode}
}

func (m *statusMonitor) start() {
	go func() {
		select {
		case <-time.After(5 * time.Second):
		case <-m.done:
			return
		}
		m.tick()

		ticker := time.NewTicker(statusCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.tick()
			case <-m.done:
				return
			}
		}
	}()
	log.Printf("[Status] Monitor started, checking %s every %s", m.healthURL, statusCheckInterval)
}

func (m *statusMonitor) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// tick checks health and reports whether the state flipped since the last
// check. The first check only records the state.
func (m *statusMonitor) tick() bool {
	status := m.checkHealth()

	m.mu.Lock()
	if m.lastUp == nil {
		m.lastUp = &status.up
		m.mu.Unlock()
		state := "UP"
		if !status.up {
			state = "DOWN"
		}
		log.Printf("[Status] Initial state: %s (HTTP %d)", state, status.code)
		return false
	}

	wasUp := *m.lastUp
	if status.up == wasUp {
		m.mu.Unlock()
		return false
	}
	m.lastUp = &status.up
	m.mu.Unlock()

	log.Printf("[Status] State changed: up=%v -> up=%v", wasUp, status.up)
	m.broadcast(status)
	return true
}

func (m *statusMonitor) broadcast(status siteStatus) {
	m.mu.RLock()
	channels := make(map[string]string, len(m.config.GuildChannels))
	for k, v := range m.config.GuildChannels {
		channels[k] = v
	}
	m.mu.RUnlock()

	if len(channels) == 0 || m.session == nil {
		return
	}

	embed := statusEmbed(status, time.Now())

	for guildID, channelID := range channels {
		_, err := m.session.ChannelMessageSendEmbed(channelID, embed)
		if err != nil {
			log.Printf("[Status] Failed to send to guild %s channel %s: %v", guildID, channelID, err)
		}
	}
}

func (b *Bot) handleSetStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondEphemeral(s, i, "This command can only be used in a server.")
		return
	}

	channelID := i.ChannelID
	if err := b.status.setChannel(i.GuildID, channelID); err != nil {
		log.Printf("[Status] Failed to save config: %v", err)
		respondEphemeral(s, i, "Failed to save status channel config.")
		return
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Status channel set",
					Description: fmt.Sprintf("Status updates will be posted to <#%s>.\n\nYou'll be notified when reelsave goes down or comes back up.", channelID),
					Color:       colorSuccess,
					Footer:      &discordgo.MessageEmbedFooter{Text: "reelsave status"},
				},
			},
		},
	})
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func statusEmbed(status siteStatus, now time.Time) *discordgo.MessageEmbed {
	if status.up {
		return &discordgo.MessageEmbed{
			Title:       "reelsave is back online",
			Description: "Downloads are working again.",
			Color:       colorSuccess,
			Timestamp:   now.Format(time.RFC3339),
			Footer:      &discordgo.MessageEmbedFooter{Text: "reelsave status"},
		}
	}

	desc := "reelsave appears to be down."
	if status.code > 0 {
		desc += fmt.Sprintf(" (HTTP %d)", status.code)
	}

	return &discordgo.MessageEmbed{
		Title:       "reelsave is down",
		Description: desc,
		Color:       colorError,
		Timestamp:   now.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "reelsave status"},
	}
}
