package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Config struct {
	GatewayURL     string
	GatewayToken   string
	TokenFile      string
	SessionKey     string
	PlanSessionKey string
	DataDir        string
	LocalHost      string
	LocalPort      int
	AuthUser       string
	AuthPass       string
	MaxWSClients   int
	LogLevel       string
	DisplayName    string
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	gatewayURL := os.Getenv("OPCONSOLE_GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = "ws://127.0.0.1:18789"
	}
	sessionKey := os.Getenv("OPCONSOLE_SESSION_KEY")
	if sessionKey == "" {
		sessionKey = "agent-console"
	}
	planSessionKey := os.Getenv("OPCONSOLE_PLAN_SESSION_KEY")
	if planSessionKey == "" {
		planSessionKey = "agent-plan"
	}
	dataDir := os.Getenv("OPCONSOLE_DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	localHost := os.Getenv("OPCONSOLE_HOST")
	if localHost == "" {
		localHost = "127.0.0.1"
	}
	localPort := 21337
	if p := os.Getenv("OPCONSOLE_PORT"); p != "" {
		if n := atoiOrDefault(p, 21337); n > 0 {
			localPort = n
		}
	}
	authUser := os.Getenv("OPCONSOLE_AUTH_USER")
	if authUser == "" {
		authUser = "operator"
	}
	maxClients := atoiOrDefault(os.Getenv("OPCONSOLE_MAX_WS_CLIENTS"), 2)
	if maxClients < 1 {
		maxClients = 2
	}
	level := os.Getenv("OPCONSOLE_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	displayName := os.Getenv("OPCONSOLE_DISPLAY_NAME")
	if displayName == "" {
		displayName = "Operator Console"
	}

	return Config{
		GatewayURL:     gatewayURL,
		GatewayToken:   os.Getenv("OPCONSOLE_GATEWAY_TOKEN"),
		TokenFile:      os.Getenv("OPCONSOLE_GATEWAY_TOKEN_FILE"),
		SessionKey:     sessionKey,
		PlanSessionKey: planSessionKey,
		DataDir:        dataDir,
		LocalHost:      localHost,
		LocalPort:      localPort,
		AuthUser:       authUser,
		AuthPass:       os.Getenv("OPCONSOLE_AUTH_PASS"),
		MaxWSClients:   maxClients,
		LogLevel:       level,
		DisplayName:    displayName,
	}
}

// ResolveGatewayToken prefers the env token and falls back to the agent
// runtime's own config file ({"gateway":{"auth":{"token":...}}}). An empty
// result disables the bridge.
func (c Config) ResolveGatewayToken() string {
	if tok := strings.TrimSpace(c.GatewayToken); tok != "" {
		return tok
	}
	if c.TokenFile == "" {
		return ""
	}
	raw, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return ""
	}
	var doc struct {
		Gateway struct {
			Auth struct {
				Token string `json:"token"`
			} `json:"auth"`
		} `json:"gateway"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Gateway.Auth.Token)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Clean("console-data")
	}
	return filepath.Join(home, ".opconsole", "data")
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
