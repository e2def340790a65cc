package config

const (
	defaultDataDir              = "~/.local/share/lostfound"
	defaultEvidenceDir          = "~/.local/share/lostfound/evidence"
	defaultCaptureDir           = "~/.local/share/lostfound/captures"
	defaultLogDir               = "~/.local/share/lostfound/logs"
	defaultAPIBind              = "127.0.0.1:7490"
	defaultNotifyTimeout        = 10
	defaultMaxFileBytes         = 10 << 20
	defaultMaxRequestBytes      = 64 << 20
	defaultActuatorTimeout      = 5
	defaultReleaseWindowSeconds = 10
	defaultCameraBackoffMS      = 500
	defaultCameraMaxBackoffMS   = 10000
	defaultCameraReadTimeout    = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

// DefaultAllowedExtensions lists the image extensions accepted as evidence.
func DefaultAllowedExtensions() []string {
	return []string{"png", "jpg", "jpeg", "gif"}
}

// DefaultChannels returns the relay channel assigned to each item category.
func DefaultChannels() map[string]int {
	return map[string]int{
		"phone":      1,
		"wallet":     2,
		"umbrella":   3,
		"calculator": 4,
		"random":     5,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			EvidenceDir: defaultEvidenceDir,
			CaptureDir:  defaultCaptureDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Evidence: Evidence{
			MaxFileBytes:      defaultMaxFileBytes,
			MaxRequestBytes:   defaultMaxRequestBytes,
			AllowedExtensions: DefaultAllowedExtensions(),
		},
		Actuator: Actuator{
			TimeoutSeconds:       defaultActuatorTimeout,
			ReleaseWindowSeconds: defaultReleaseWindowSeconds,
			Channels:             DefaultChannels(),
		},
		Camera: Camera{
			RetryBackoffMS:     defaultCameraBackoffMS,
			MaxBackoffMS:       defaultCameraMaxBackoffMS,
			ReadTimeoutSeconds: defaultCameraReadTimeout,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
