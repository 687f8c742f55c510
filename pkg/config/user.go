package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

const UserConfigEnv = "CHECKIND_CONFIG"
const UserAppPathEnv = "CHECKIND_APP_PATH"

type CheckindConfig struct {
	DisableBuzzer  bool `ini:"disable_buzzer"`
	ConsoleLogging bool `ini:"console_logging"`
	Debug          bool `ini:"debug"`
}

type ApiConfig struct {
	BaseUrl   string `ini:"base_url"`
	Tag       string `ini:"tag"`
	Username  string `ini:"username,omitempty"`
	AuthToken string `ini:"auth_token,omitempty"`
}

type ServerConfig struct {
	Port int `ini:"port"`
}

type UserConfig struct {
	mu       sync.RWMutex
	AppPath  string         `ini:"-"`
	IniPath  string         `ini:"-"`
	Checkind CheckindConfig `ini:"checkind"`
	Api      ApiConfig      `ini:"api"`
	Server   ServerConfig   `ini:"server"`
}

func (c *UserConfig) GetDisableBuzzer() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Checkind.DisableBuzzer
}

func (c *UserConfig) GetConsoleLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Checkind.ConsoleLogging
}

func (c *UserConfig) GetDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Checkind.Debug
}

func (c *UserConfig) SetDebug(debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Checkind.Debug = debug
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func (c *UserConfig) GetBaseUrl() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Api.BaseUrl
}

func (c *UserConfig) GetTag() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Api.Tag
}

func (c *UserConfig) GetUsername() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Api.Username
}

func (c *UserConfig) GetAuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Api.AuthToken
}

func (c *UserConfig) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Api.AuthToken = token
}

func (c *UserConfig) GetServerPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.Port
}

func (c *UserConfig) LoadConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := ini.ShadowLoad(c.IniPath)
	if err != nil {
		return err
	}

	err = cfg.StrictMapTo(c)
	if err != nil {
		return err
	}

	return nil
}

func (c *UserConfig) SaveConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := ini.Empty()

	ini.PrettyEqual = true
	ini.PrettyFormat = false

	err := cfg.ReflectFrom(c)
	if err != nil {
		return err
	}

	err = cfg.SaveTo(c.IniPath)
	if err != nil {
		return err
	}

	return nil
}

func NewUserConfig(defaultConfig *UserConfig) (*UserConfig, error) {
	iniPath := os.Getenv(UserConfigEnv)

	exePath, err := os.Executable()
	if err != nil {
		return defaultConfig, err
	}

	appPath := os.Getenv(UserAppPathEnv)
	if appPath != "" {
		exePath = appPath
	}

	if iniPath == "" {
		iniPath = filepath.Join(filepath.Dir(exePath), AppName+".ini")
	}

	defaultConfig.AppPath = exePath
	defaultConfig.IniPath = iniPath

	if _, err := os.Stat(iniPath); os.IsNotExist(err) {
		// create a blank one on disk
		err := defaultConfig.SaveConfig()
		if err != nil {
			log.Error().Err(err).Msg("failed to save new user config to disk")
			return defaultConfig, err
		}

		return defaultConfig, nil
	}

	err = defaultConfig.LoadConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load user config")
		return defaultConfig, err
	}

	return defaultConfig, nil
}
