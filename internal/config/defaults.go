package config

const (
	defaultConfigPath          = "~/.config/birdwatcher/config.toml"
	defaultDataDir             = "~/.local/share/birdwatcher"
	defaultDatabaseFile        = "birdwatcher.db"
	defaultVisionBaseURL       = "https://api.openai.com/v1/chat/completions"
	defaultVisionModel         = "gpt-4o-mini"
	defaultVisionTimeout       = 30
	defaultVisionMaxRetries    = 3
	defaultVisionRetryDelayMS  = 1000
	defaultVisionBackoff       = 2.0
	defaultMinRequestInterval  = 1100
	defaultTokensPerMinute     = 200000
	defaultCacheTTLSeconds     = 3600
	defaultCacheMaxEntries     = 1000
	defaultDetectMaxTokens     = 180
	defaultIdentifyMaxTokens   = 500
	defaultCompareMaxTokens    = 500
	defaultFramesPerSecond     = 1.0
	defaultBatchSize           = 10
	defaultSceneThreshold      = 0.3
	defaultProbeSceneThreshold = 0.4
	defaultMinQuality          = 6
	defaultDuplicateDistance   = 2
	defaultRepresentativeQual  = 7
	defaultSimilarityThreshold = 85.0
	defaultMaxComparisons      = 5
	defaultPrefilterSimilarity = 40.0
	defaultPollIntervalMS      = 2000
	defaultErrorRetryInterval  = 10
	defaultSettleSeconds       = 2
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"

	// DetailLow asks the model for the low-resolution image pass.
	DetailLow = "low"
	// DetailHigh asks the model for the full-resolution image pass.
	DetailHigh = "high"
)

var defaultVideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".flv", ".wmv"}

// Default returns a Config populated with repository defaults. Directory
// fields left empty are derived from DataDir during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Vision: Vision{
			BaseURL:              defaultVisionBaseURL,
			Model:                defaultVisionModel,
			TimeoutSeconds:       defaultVisionTimeout,
			MaxRetries:           defaultVisionMaxRetries,
			RetryDelayMS:         defaultVisionRetryDelayMS,
			BackoffMultiplier:    defaultVisionBackoff,
			MinRequestIntervalMS: defaultMinRequestInterval,
			TokensPerMinute:      defaultTokensPerMinute,
			CacheTTLSeconds:      defaultCacheTTLSeconds,
			CacheMaxEntries:      defaultCacheMaxEntries,
			Detect:               VisionOperation{MaxTokens: defaultDetectMaxTokens, Detail: DetailLow},
			Identify:             VisionOperation{MaxTokens: defaultIdentifyMaxTokens, Detail: DetailHigh},
			Compare:              VisionOperation{MaxTokens: defaultCompareMaxTokens, Detail: DetailHigh},
		},
		Processing: Processing{
			FramesPerSecond:       defaultFramesPerSecond,
			BatchSize:             defaultBatchSize,
			MotionDetection:       true,
			SceneThreshold:        defaultSceneThreshold,
			ProbeSceneThreshold:   defaultProbeSceneThreshold,
			MinQuality:            defaultMinQuality,
			DuplicateDistance:     defaultDuplicateDistance,
			RepresentativeQuality: defaultRepresentativeQual,
		},
		Similarity: Similarity{
			Threshold:              defaultSimilarityThreshold,
			MaxComparisons:         defaultMaxComparisons,
			PrefilterMinSimilarity: defaultPrefilterSimilarity,
		},
		Workflow: Workflow{
			PollIntervalMS:     defaultPollIntervalMS,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Watcher: Watcher{
			SettleSeconds: defaultSettleSeconds,
			Extensions:    append([]string(nil), defaultVideoExtensions...),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
