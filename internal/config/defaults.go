package config

const (
	defaultDataDir              = "~/.local/share/cosflow"
	defaultLogDir               = "~/.local/share/cosflow/logs"
	defaultAPIBind              = "127.0.0.1:7600"
	defaultTokenTTLHours        = 12
	defaultMaxFileMiB           = 25
	defaultMaxFragments         = 200
	defaultMaxTotalMiB          = 256
	defaultPageSize             = "A4"
	defaultNotifyRequestTimeout = 10
	defaultDeliveryTimeout      = 5
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"

	jwtSecretEnv = "COSFLOW_JWT_SECRET"
	ntfyTopicEnv = "COSFLOW_NTFY_TOPIC"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Auth: Auth{
			TokenTTLHours: defaultTokenTTLHours,
		},
		Upload: Upload{
			MaxFileMiB: defaultMaxFileMiB,
		},
		Merge: Merge{
			MaxFragments: defaultMaxFragments,
			MaxTotalMiB:  defaultMaxTotalMiB,
			PageSize:     defaultPageSize,
		},
		Notifications: Notifications{
			RequestTimeout:  defaultNotifyRequestTimeout,
			DeliveryTimeout: defaultDeliveryTimeout,
			Groups:          true,
			Uploads:         true,
			Circulation:     true,
			Revisions:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
