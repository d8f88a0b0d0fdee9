package config

const (
	defaultStagingDir         = "~/.local/share/kontext/staging"
	defaultLogDir             = "~/.local/share/kontext/logs"
	defaultLogRetentionDays   = 60
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultTelegramAPIBaseURL = "https://api.telegram.org"
	defaultPollTimeout        = 30
	defaultRequestTimeout     = 60
	defaultComfyUIDir         = "~/Tools/ComfyUI"
	defaultCondaEnv           = "comfyui"
	defaultServerAddress      = "127.0.0.1:8188"
	defaultListenAddress      = "0.0.0.0"
	defaultStartupTimeout     = 180
	defaultShutdownGrace      = 10
	defaultTemplatePath       = "~/.config/kontext/FLUX-Kontext.json"
	defaultImageNode          = "41"
	defaultPromptNode         = "6"
	defaultSeedNode           = "25"
	defaultIdleGracePeriod    = 300
	defaultConversationTTL    = 600
	defaultETAWindow          = 5
	defaultBaselineJobSeconds = 90
	defaultProgressStep       = 25
	defaultNotifyTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Telegram: Telegram{
			APIBaseURL:     defaultTelegramAPIBaseURL,
			PollTimeout:    defaultPollTimeout,
			RequestTimeout: defaultRequestTimeout,
		},
		ComfyUI: ComfyUI{
			Dir:            defaultComfyUIDir,
			CondaEnv:       defaultCondaEnv,
			ServerAddress:  defaultServerAddress,
			ListenAddress:  defaultListenAddress,
			ExtraArgs:      []string{"--lowvram"},
			StartupTimeout: defaultStartupTimeout,
			ShutdownGrace:  defaultShutdownGrace,
		},
		Workflow: Workflow{
			TemplatePath:       defaultTemplatePath,
			ImageNode:          defaultImageNode,
			PromptNode:         defaultPromptNode,
			SeedNode:           defaultSeedNode,
			IdleGracePeriod:    defaultIdleGracePeriod,
			ConversationTTL:    defaultConversationTTL,
			ETAWindow:          defaultETAWindow,
			BaselineJobSeconds: defaultBaselineJobSeconds,
			ProgressStep:       defaultProgressStep,
		},
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Lifecycle:      true,
			Failures:       true,
			KillSwitch:     true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
