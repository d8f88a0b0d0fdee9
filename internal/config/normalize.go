package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTelegram()
	if err := c.normalizeComfyUI(); err != nil {
		return err
	}
	if err := c.normalizeWorkflow(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandUserPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandUserPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTelegram() {
	c.Telegram.Token = strings.TrimSpace(c.Telegram.Token)
	if c.Telegram.Token == "" {
		if value, ok := os.LookupEnv("TELEGRAM_TOKEN"); ok {
			c.Telegram.Token = strings.TrimSpace(value)
		}
	}
	c.Telegram.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Telegram.APIBaseURL), "/")
	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = defaultTelegramAPIBaseURL
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = defaultPollTimeout
	}
	if c.Telegram.RequestTimeout <= 0 {
		c.Telegram.RequestTimeout = defaultRequestTimeout
	}
}

func (c *Config) normalizeComfyUI() error {
	c.ComfyUI.Dir = strings.TrimSpace(c.ComfyUI.Dir)
	if c.ComfyUI.Dir == "" {
		c.ComfyUI.Dir = defaultComfyUIDir
	}
	var err error
	if c.ComfyUI.Dir, err = expandUserPath(c.ComfyUI.Dir); err != nil {
		return fmt.Errorf("comfyui.dir: %w", err)
	}
	c.ComfyUI.CondaEnv = strings.TrimSpace(c.ComfyUI.CondaEnv)
	if c.ComfyUI.CondaEnv == "" {
		c.ComfyUI.CondaEnv = defaultCondaEnv
	}
	c.ComfyUI.ServerAddress = strings.TrimSpace(c.ComfyUI.ServerAddress)
	if c.ComfyUI.ServerAddress == "" {
		c.ComfyUI.ServerAddress = defaultServerAddress
	}
	c.ComfyUI.ListenAddress = strings.TrimSpace(c.ComfyUI.ListenAddress)
	if c.ComfyUI.ListenAddress == "" {
		c.ComfyUI.ListenAddress = defaultListenAddress
	}
	args := make([]string, 0, len(c.ComfyUI.ExtraArgs))
	for _, arg := range c.ComfyUI.ExtraArgs {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	c.ComfyUI.ExtraArgs = args
	if c.ComfyUI.StartupTimeout <= 0 {
		c.ComfyUI.StartupTimeout = defaultStartupTimeout
	}
	if c.ComfyUI.ShutdownGrace <= 0 {
		c.ComfyUI.ShutdownGrace = defaultShutdownGrace
	}
	return nil
}

func (c *Config) normalizeWorkflow() error {
	var err error
	if strings.TrimSpace(c.Workflow.TemplatePath) == "" {
		c.Workflow.TemplatePath = defaultTemplatePath
	}
	if c.Workflow.TemplatePath, err = expandUserPath(c.Workflow.TemplatePath); err != nil {
		return fmt.Errorf("workflow.template_path: %w", err)
	}
	c.Workflow.ImageNode = strings.TrimSpace(c.Workflow.ImageNode)
	if c.Workflow.ImageNode == "" {
		c.Workflow.ImageNode = defaultImageNode
	}
	c.Workflow.PromptNode = strings.TrimSpace(c.Workflow.PromptNode)
	if c.Workflow.PromptNode == "" {
		c.Workflow.PromptNode = defaultPromptNode
	}
	c.Workflow.SeedNode = strings.TrimSpace(c.Workflow.SeedNode)
	if c.Workflow.SeedNode == "" {
		c.Workflow.SeedNode = defaultSeedNode
	}
	if c.Workflow.IdleGracePeriod <= 0 {
		c.Workflow.IdleGracePeriod = defaultIdleGracePeriod
	}
	if c.Workflow.ConversationTTL <= 0 {
		c.Workflow.ConversationTTL = defaultConversationTTL
	}
	if c.Workflow.ETAWindow <= 0 {
		c.Workflow.ETAWindow = defaultETAWindow
	}
	if c.Workflow.BaselineJobSeconds <= 0 {
		c.Workflow.BaselineJobSeconds = defaultBaselineJobSeconds
	}
	if c.Workflow.ProgressStep <= 0 {
		c.Workflow.ProgressStep = defaultProgressStep
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	// Anything that is not explicitly json renders as console.
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format != "json" {
		format = "console"
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level

	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if len(c.Logging.ComponentOverrides) > 0 {
		normalized := make(map[string]string, len(c.Logging.ComponentOverrides))
		for component, level := range c.Logging.ComponentOverrides {
			component = strings.ToLower(strings.TrimSpace(component))
			level = strings.ToLower(strings.TrimSpace(level))
			if component == "" || level == "" {
				continue
			}
			normalized[component] = level
		}
		c.Logging.ComponentOverrides = normalized
	}
}
