package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

var Version = "dev"

var (
	Port    string
	EnvMode string

	CobaltAPIKey string
	CobaltAPIs   []string

	UpstreamTimeout time.Duration
	TokenStoreMax   int

	ProxyHost       string
	ProxyPort       string
	ProxyUserPrefix string
	ProxyPassword   string
	ProxyCount      int

	DiscordWebhookURL string
	DiscordPingUserID string
	DiscordAlerts     bool
)

const (
	TokenMaxAge      = 30 * time.Minute
	TokenSweepPeriod = 5 * time.Minute
	MaxURLLength     = 2048
	RateLimitWindow  = 60 * time.Second
	RateLimitMax     = 60
	MaxBufferedBytes = 256 * 1024 * 1024
	DownloadFilename = "instagram-video.mp4"
	DefaultMediaType = "video/mp4"
)

var defaultCobaltAPIs = []string{
	"https://nuko-c.meowing.de",
	"https://subito-c.meowing.de",
	"https://cessi-c.meowing.de",
}

func init() {
	Port = "3000"
	EnvMode = "development"
	CobaltAPIs = defaultCobaltAPIs
	UpstreamTimeout = 30 * time.Second
}

func Load() {
	Port = envOrDefault("PORT", "3000")
	EnvMode = envOrDefault("NODE_ENV", "development")

	CobaltAPIKey = os.Getenv("COBALT_API_KEY")
	CobaltAPIs = splitList(os.Getenv("COBALT_APIS"))
	if len(CobaltAPIs) == 0 {
		CobaltAPIs = defaultCobaltAPIs
	}

	timeoutSec, err := strconv.Atoi(envOrDefault("UPSTREAM_TIMEOUT_SEC", "30"))
	if err != nil || timeoutSec < 1 {
		log.Printf("[WARN] invalid UPSTREAM_TIMEOUT_SEC, using 30s")
		timeoutSec = 30
	}
	UpstreamTimeout = time.Duration(timeoutSec) * time.Second

	TokenStoreMax, _ = strconv.Atoi(envOrDefault("TOKEN_STORE_MAX", "0"))
	if TokenStoreMax < 0 {
		TokenStoreMax = 0
	}

	ProxyHost = os.Getenv("PROXY_HOST")
	ProxyPort = envOrDefault("PROXY_PORT", "80")
	ProxyUserPrefix = os.Getenv("PROXY_USER_PREFIX")
	ProxyPassword = os.Getenv("PROXY_PASSWORD")
	ProxyCount, _ = strconv.Atoi(envOrDefault("PROXY_COUNT", "0"))

	DiscordWebhookURL = os.Getenv("DISCORD_WEBHOOK_URL")
	DiscordPingUserID = os.Getenv("DISCORD_PING_USER_ID")
	DiscordAlerts = DiscordWebhookURL != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimRight(strings.TrimSpace(part), "/")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
