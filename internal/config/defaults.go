package config

const (
	defaultDataDir = "~/.local/share/dubforge"
	defaultLogDir  = "~/.local/share/dubforge/logs"
	defaultAPIBind = "127.0.0.1:7519"

	defaultEthicsURL    = "http://127.0.0.1:8000"
	defaultASRURL       = "http://127.0.0.1:8001"
	defaultTranslateURL = "http://127.0.0.1:8002"
	defaultTTSURL       = "http://127.0.0.1:8003"
	defaultAnimationURL = "http://127.0.0.1:8004"
	defaultQualityURL   = "http://127.0.0.1:8005"

	defaultEthicsTimeout    = 60
	defaultASRTimeout       = 300
	defaultTranslateTimeout = 120
	defaultTTSTimeout       = 180
	defaultAnimationTimeout = 600
	defaultQualityTimeout   = 120
	defaultPollIntervalMS   = 500

	defaultMinLipSync       = 0.85
	defaultMaxFID           = 15.0
	defaultMinAUCorrelation = 0.75
	defaultMinBLEU          = 35.0

	defaultMaxRetriesPerStage = 2
	defaultBackoffBaseMS      = 500
	defaultBackoffMultiplier  = 2.0
	defaultBackoffMaxMS       = 30000
	defaultLowConfidenceFloor = 0.5

	defaultWorkerCount        = 8
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		StageServices: StageServices{
			EthicsURL:        defaultEthicsURL,
			ASRURL:           defaultASRURL,
			TranslateURL:     defaultTranslateURL,
			TTSURL:           defaultTTSURL,
			AnimationURL:     defaultAnimationURL,
			QualityURL:       defaultQualityURL,
			EthicsTimeout:    defaultEthicsTimeout,
			ASRTimeout:       defaultASRTimeout,
			TranslateTimeout: defaultTranslateTimeout,
			TTSTimeout:       defaultTTSTimeout,
			AnimationTimeout: defaultAnimationTimeout,
			QualityTimeout:   defaultQualityTimeout,
			PollIntervalMS:   defaultPollIntervalMS,
		},
		Quality: Quality{
			MinLipSync:       defaultMinLipSync,
			MaxFID:           defaultMaxFID,
			MinAUCorrelation: defaultMinAUCorrelation,
			MinBLEU:          defaultMinBLEU,
			LipSyncWeight:    0.3,
			FIDWeight:        0.2,
			AUWeight:         0.2,
			BLEUWeight:       0.3,
		},
		Retry: Retry{
			MaxPerStage:        defaultMaxRetriesPerStage,
			BackoffBaseMS:      defaultBackoffBaseMS,
			BackoffMultiplier:  defaultBackoffMultiplier,
			BackoffMaxMS:       defaultBackoffMaxMS,
			LowConfidenceFloor: defaultLowConfidenceFloor,
		},
		Workflow: Workflow{
			WorkerCount:        defaultWorkerCount,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			JobCreated:     true,
			JobCompleted:   true,
			JobFailed:      true,
			ReviewNeeded:   true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Ethics: Ethics{
			RequireConsent:     true,
			EnableWatermarking: true,
		},
	}
}
