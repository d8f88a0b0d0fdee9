package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate rejects configurations the daemon could not run with.
func (c *Config) Validate() error {
	if err := c.validateTelegram(); err != nil {
		return err
	}
	if err := c.validateComfyUI(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTelegram() error {
	if c.Telegram.Token == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/kontext/config.toml"
		}
		return fmt.Errorf("telegram.token is required. Set TELEGRAM_TOKEN env var or edit %s (create with 'kontext config init')", defaultPath)
	}
	return requirePositive(
		positiveSetting{"telegram.poll_timeout", c.Telegram.PollTimeout},
		positiveSetting{"telegram.request_timeout", c.Telegram.RequestTimeout},
	)
}

func (c *Config) validateComfyUI() error {
	if c.ComfyUI.Dir == "" {
		return errors.New("comfyui.dir must point at a ComfyUI checkout")
	}
	if c.ComfyUI.CondaEnv == "" {
		return errors.New("comfyui.conda_env must be set")
	}
	if _, _, err := net.SplitHostPort(c.ComfyUI.ServerAddress); err != nil {
		return fmt.Errorf("comfyui.server_address must be host:port: %w", err)
	}
	return requirePositive(
		positiveSetting{"comfyui.startup_timeout", c.ComfyUI.StartupTimeout},
		positiveSetting{"comfyui.shutdown_grace", c.ComfyUI.ShutdownGrace},
	)
}

func (c *Config) validateWorkflow() error {
	required := []struct{ key, value string }{
		{"workflow.template_path", c.Workflow.TemplatePath},
		{"workflow.image_node", c.Workflow.ImageNode},
		{"workflow.prompt_node", c.Workflow.PromptNode},
		{"workflow.seed_node", c.Workflow.SeedNode},
	}
	for _, setting := range required {
		if strings.TrimSpace(setting.value) == "" {
			return fmt.Errorf("%s must be set", setting.key)
		}
	}
	if err := requirePositive(
		positiveSetting{"workflow.idle_grace_period", c.Workflow.IdleGracePeriod},
		positiveSetting{"workflow.conversation_ttl", c.Workflow.ConversationTTL},
		positiveSetting{"workflow.eta_window", c.Workflow.ETAWindow},
		positiveSetting{"workflow.baseline_job_seconds", c.Workflow.BaselineJobSeconds},
	); err != nil {
		return err
	}
	if c.Workflow.ProgressStep < 1 || c.Workflow.ProgressStep > 100 {
		return errors.New("workflow.progress_step must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

type positiveSetting struct {
	key   string
	value int
}

// requirePositive reports the first non-positive setting, in argument order
// so the surfaced error is stable.
func requirePositive(settings ...positiveSetting) error {
	for _, setting := range settings {
		if setting.value <= 0 {
			return fmt.Errorf("%s must be positive", setting.key)
		}
	}
	return nil
}
