package config

const (
	defaultBackendBaseURL        = "http://127.0.0.1:8000"
	defaultBackendVersion        = 1
	defaultBackendVideoID        = "VID_001"
	defaultRequestTimeoutSeconds = 30
	defaultStatusIntervalMillis  = 2000
	defaultJobIntervalMillis     = 3000
	defaultJobMaxAttempts        = 60
	defaultLogCapacity           = 10
	defaultLogDir                = "~/.local/share/reelflow/logs"
	defaultStateDir              = "~/.local/share/reelflow/state"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultNotifyRequestTimeout  = 10
	defaultDevServerBind         = "127.0.0.1:8000"
	defaultDevServerStepDelayMs  = 1500
	defaultDevServerShotsPerRun  = 3
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Backend: Backend{
			BaseURL:               defaultBackendBaseURL,
			Version:               defaultBackendVersion,
			VideoID:               defaultBackendVideoID,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Polling: Polling{
			StatusIntervalMillis: defaultStatusIntervalMillis,
			JobIntervalMillis:    defaultJobIntervalMillis,
			JobMaxAttempts:       defaultJobMaxAttempts,
			LogCapacity:          defaultLogCapacity,
		},
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Stages:         true,
			Jobs:           true,
			Errors:         true,
		},
		DevServer: DevServer{
			Bind:        defaultDevServerBind,
			StepDelayMs: defaultDevServerStepDelayMs,
			ShotsPerRun: defaultDevServerShotsPerRun,
		},
	}
}
