package config

const (
	defaultBackend = "sqlite"

	defaultSegmentCapacity = 20
	defaultSegmentRetain   = 10

	defaultWatermarkCapacity = 1000
	defaultMaxReasoningLen   = 4000

	defaultDebounceMS    = 2000
	defaultSweepSeconds  = 30
	defaultFlushWorkers  = 3
	defaultFlushQueue    = 256
	defaultFlushAttempts = 5

	defaultExportPrefix   = "exports"
	defaultBatchLimit     = 200
	defaultCooldownSecond = 60

	defaultQRShape       = "square"
	defaultQRBorderWidth = 20

	defaultEventTopic = "reverie.thoughts"

	defaultAPIListen = ":8081"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Backend:         defaultBackend,
			SegmentCapacity: defaultSegmentCapacity,
			SegmentRetain:   defaultSegmentRetain,
		},
		Cache: CacheConfig{
			WatermarkCapacity: defaultWatermarkCapacity,
			MaxReasoningLen:   defaultMaxReasoningLen,
		},
		Flush: FlushConfig{
			DebounceMS:           defaultDebounceMS,
			SweepIntervalSeconds: defaultSweepSeconds,
			Workers:              defaultFlushWorkers,
			QueueSize:            defaultFlushQueue,
			MaxAttempts:          defaultFlushAttempts,
		},
		Export: ExportConfig{
			Prefix:          defaultExportPrefix,
			BatchLimit:      defaultBatchLimit,
			CooldownSeconds: defaultCooldownSecond,
		},
		QRCode: QRCodeConfig{
			Shape:       defaultQRShape,
			BorderWidth: defaultQRBorderWidth,
		},
		EventStream: EventStreamConfig{
			Topic: defaultEventTopic,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
	}
}
