package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Catalogue CatalogueConfig `toml:"catalogue"`
	Systems   SystemsConfig   `toml:"systems"`
	Render    RenderConfig    `toml:"render"`
	Publish   PublishConfig   `toml:"publish"`
	Watch     WatchConfig     `toml:"watch"`
	History   HistoryConfig   `toml:"history"`
	Preview   PreviewConfig   `toml:"preview"`
	Tunnel    TunnelConfig    `toml:"tunnel"`
	Logging   LoggingConfig   `toml:"logging"`
}

// PathsConfig contains the well-known input and output locations
type PathsConfig struct {
	PlaytimeFile string `toml:"playtime_file"`
	CatalogueDir string `toml:"catalogue_dir"`
	OutputDir    string `toml:"output_dir"`
}

// CatalogueConfig contains box-art scanning options
type CatalogueConfig struct {
	ImageFormats []string `toml:"image_formats"`
	BoxSubdir    string   `toml:"box_subdir"`
}

// SystemsConfig maps tracker system names onto catalogue names and page styling
type SystemsConfig struct {
	Aliases    map[string]string `toml:"aliases"`
	Colors     map[string]string `toml:"colors"`
	ShortNames map[string]string `toml:"short_names"`
}

// RenderConfig contains page rendering options
type RenderConfig struct {
	Title           string            `toml:"title"`
	TemplatePath    string            `toml:"template_path"`
	EmbedCovers     bool              `toml:"embed_covers"`
	Blurhash        bool              `toml:"blurhash"`
	ShowGeneratedAt bool              `toml:"show_generated_at"`
	DeviceNames     map[string]string `toml:"device_names"`
}

// PublishConfig describes the remote destination. An empty host mirrors into
// BasePath on the local filesystem.
type PublishConfig struct {
	Method         string   `toml:"method" validate:"oneof=rsync scp"`
	Host           string   `toml:"host" validate:"omitempty,hostname_rfc1123|ip"`
	Port           int      `toml:"port" validate:"min=1,max=65535"`
	User           string   `toml:"user" validate:"required_with=Host"`
	BasePath       string   `toml:"base_path" validate:"required"`
	CredentialPath string   `toml:"credential_path" validate:"required_with=Host"`
	SSHOptions     []string `toml:"ssh_options"`
	ExtraArgs      string   `toml:"extra_args"`
	RsyncPath      string   `toml:"rsync_path"`
	SSHPath        string   `toml:"ssh_path"`
	SCPPath        string   `toml:"scp_path"`
	URL            string   `toml:"url" validate:"omitempty,url"`
}

// WatchConfig contains rebuild-on-change options
type WatchConfig struct {
	DebounceMillis int  `toml:"debounce_ms"`
	Publish        bool `toml:"publish"`
}

// HistoryConfig contains the run history store options
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	// KeepDays drops older runs when the store is opened; 0 keeps everything.
	KeepDays int `toml:"keep_days"`
}

// PreviewConfig contains the local preview server options
type PreviewConfig struct {
	Addr string `toml:"addr"`
}

// TunnelConfig contains the ngrok options used by preview --share
type TunnelConfig struct {
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
	// OAuthProvider puts the shared preview behind ngrok's OAuth when set (e.g. "google").
	OAuthProvider string `toml:"oauth_provider"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Environment variables that override the publish destination.
const (
	EnvPublishHost = "GAMESHELF_PUBLISH_HOST"
	EnvPublishPort = "GAMESHELF_PUBLISH_PORT"
	EnvPublishUser = "GAMESHELF_PUBLISH_USER"
	EnvPublishPath = "GAMESHELF_PUBLISH_PATH"
	EnvPublishKey  = "GAMESHELF_PUBLISH_KEY"

	EnvNgrokToken = "NGROK_AUTHTOKEN"
)

// DefaultConfig returns a configuration with muOS defaults
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			PlaytimeFile: "/mnt/sdcard/MUOS/info/track/playtime_data.json",
			CatalogueDir: "/mnt/sdcard/MUOS/info/catalogue",
			OutputDir:    "/tmp/gameshelf",
		},
		Catalogue: CatalogueConfig{
			ImageFormats: []string{".png", ".jpg", ".jpeg", ".webp", ".gif"},
			BoxSubdir:    "box",
		},
		Systems: SystemsConfig{
			Aliases: map[string]string{
				"Ports":   "External - Ports",
				"Symbian": "Java J2ME",
			},
			Colors: map[string]string{
				"Nintendo NES - Famicom":    "#c4272e",
				"Nintendo SNES - SFC":       "#7b5ea7",
				"Nintendo Game Boy":         "#2f6b3a",
				"Nintendo Game Boy Color":   "#5b3a8c",
				"Nintendo Game Boy Advance": "#354fa0",
				"Nintendo DS":               "#999999",
				"Nintendo N64":              "#009e42",
				"Sega Mega Drive - Genesis": "#1a6eb5",
				"Sega Pico":                 "#1a6eb5",
				"Sony PlayStation":          "#003087",
				"Sony PlayStation Portable": "#003087",
				"External - Ports":          "#e07020",
				"Java J2ME":                 "#5382a1",
			},
			ShortNames: map[string]string{
				"Nintendo NES - Famicom":    "NES",
				"Nintendo SNES - SFC":       "SNES",
				"Nintendo Game Boy":         "Game Boy",
				"Nintendo Game Boy Color":   "GBC",
				"Nintendo Game Boy Advance": "GBA",
				"Nintendo DS":               "NDS",
				"Nintendo N64":              "N64",
				"Sega Mega Drive - Genesis": "Genesis",
				"Sega Pico":                 "Pico-8",
				"Sony PlayStation":          "PS1",
				"Sony PlayStation Portable": "PSP",
				"External - Ports":          "Ports",
				"Java J2ME":                 "J2ME",
			},
		},
		Render: RenderConfig{
			Title:           "Game Collection",
			TemplatePath:    "",
			EmbedCovers:     false,
			Blurhash:        true,
			ShowGeneratedAt: false,
			DeviceNames: map[string]string{
				"rg40xx-v":   "RG40",
				"rg35xx-pro": "RG30",
			},
		},
		Publish: PublishConfig{
			Method:         "rsync",
			Host:           "",
			Port:           22,
			User:           "",
			BasePath:       "/var/www/gameshelf",
			CredentialPath: "",
			SSHOptions: []string{
				"BatchMode=yes",
				"StrictHostKeyChecking=accept-new",
				"ConnectTimeout=15",
			},
			ExtraArgs: "",
			RsyncPath: "",
			SSHPath:   "",
			SCPPath:   "",
			URL:       "",
		},
		Watch: WatchConfig{
			DebounceMillis: 2000,
			Publish:        false,
		},
		History: HistoryConfig{
			Enabled:  true,
			Path:     "./gameshelf.db",
			KeepDays: 90,
		},
		Preview: PreviewConfig{
			Addr: "127.0.0.1:8088",
		},
		Tunnel: TunnelConfig{
			AuthToken:     "",
			Domain:        "",
			OAuthProvider: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies publish
// overrides from the environment and an optional .env file beside it.
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides publish settings from environment variables. The ngrok
// token is only taken from the environment when the file leaves it empty.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPublishHost); ok {
		c.Publish.Host = v
	}
	if v, ok := lookup(EnvPublishPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPublishPort, v, err)
		}
		c.Publish.Port = port
	}
	if v, ok := lookup(EnvPublishUser); ok {
		c.Publish.User = v
	}
	if v, ok := lookup(EnvPublishPath); ok {
		c.Publish.BasePath = v
	}
	if v, ok := lookup(EnvPublishKey); ok {
		c.Publish.CredentialPath = v
	}
	if v, ok := lookup(EnvNgrokToken); ok && c.Tunnel.AuthToken == "" {
		c.Tunnel.AuthToken = v
	}
	return nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# gameshelf configuration
# Paths default to the muOS SD card layout. Publish credentials can also be
# supplied through GAMESHELF_PUBLISH_* variables or a .env file next to this one.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Paths.PlaytimeFile == "" {
		return fmt.Errorf("playtime file path cannot be empty")
	}
	if c.Paths.CatalogueDir == "" {
		return fmt.Errorf("catalogue directory cannot be empty")
	}
	if c.Paths.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	if len(c.Catalogue.ImageFormats) == 0 {
		return fmt.Errorf("at least one image format must be specified")
	}
	if c.Catalogue.BoxSubdir == "" {
		return fmt.Errorf("catalogue box subdirectory cannot be empty")
	}

	if c.Watch.DebounceMillis < 0 {
		return fmt.Errorf("watch debounce must not be negative")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history path cannot be empty when history is enabled")
	}
	if c.History.KeepDays < 0 {
		return fmt.Errorf("history keep_days must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// Validate checks the publish destination. It is only called when a
// publish is requested so build-only runs never need credentials.
func (p PublishConfig) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("invalid publish configuration: %w", err)
	}
	return nil
}

// IsRemote reports whether the destination is reached over ssh
func (p PublishConfig) IsRemote() bool {
	return p.Host != ""
}

// Destination returns the rsync/scp style target, e.g. user@host:/path
func (p PublishConfig) Destination() string {
	if !p.IsRemote() {
		return p.BasePath
	}
	if p.User == "" {
		return p.Host + ":" + p.BasePath
	}
	return p.User + "@" + p.Host + ":" + p.BasePath
}

