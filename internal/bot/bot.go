package bot

import (
	"log"

	"github.com/bwmarrin/discordgo"
)

type Config struct {
	Token     string
	AppID     string
	APIURL    string
	PublicURL string
}

type Bot struct {
	session *discordgo.Session
	cfg     Config
	api     *apiClient
	cmdIDs  []string
	status  *statusMonitor
}

func New(cfg Config) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		session: s,
		cfg:     cfg,
		api:     newAPIClient(cfg.APIURL, cfg.PublicURL),
	}

	s.AddHandler(b.handleInteraction)
	s.Identify.Intents = discordgo.IntentsGuilds

	return b, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return err
	}

	log.Printf("[Bot] Logged in as %s", b.session.State.User.Username)

	b.status = newStatusMonitor(b.session, b.api.healthURL(), statusConfigFile)
	b.status.start()

	for _, cmd := range commandDefinitions() {
		created, err := b.session.ApplicationCommandCreate(b.cfg.AppID, "", cmd)
		if err != nil {
			log.Printf("[Bot] Failed to register command %s: %v", cmd.Name, err)
			continue
		}
		b.cmdIDs = append(b.cmdIDs, created.ID)
		log.Printf("[Bot] Registered command: /%s", created.Name)
	}

	return nil
}

func (b *Bot) Stop() {
	if b.status != nil {
		b.status.stop()
	}
	for _, id := range b.cmdIDs {
		b.session.ApplicationCommandDelete(b.cfg.AppID, "", id)
	}
	b.session.Close()
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "save",
			Description: "Save a video from an Instagram post or reel",
			IntegrationTypes: &[]discordgo.ApplicationIntegrationType{
				discordgo.ApplicationIntegrationGuildInstall,
				discordgo.ApplicationIntegrationUserInstall,
			},
			Contexts: &[]discordgo.InteractionContextType{
				discordgo.InteractionContextGuild,
				discordgo.InteractionContextBotDM,
				discordgo.InteractionContextPrivateChannel,
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "url",
					Description: "The Instagram post or reel URL",
					Required:    true,
				},
			},
		},
		{
			Name:                     "set-status",
			Description:              "Set this channel as the status notification channel",
			DefaultMemberPermissions: &[]int64{discordgo.PermissionManageServer}[0],
			Options:                  []*discordgo.ApplicationCommandOption{},
		},
	}
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	switch i.ApplicationCommandData().Name {
	case "save":
		b.handleSave(s, i)
	case "set-status":
		b.handleSetStatus(s, i)
	}
}
