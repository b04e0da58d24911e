package config

import (
	"time"

	perr "sprayer/internal/platform/errors"
	"sprayer/internal/platform/validate"
)

// CameraSettings selects and shapes the capture source
type CameraSettings struct {
	Source string  `json:"source" validate:"oneof=sim device"`
	Device int     `json:"device" validate:"min=0"`
	Width  int     `json:"width" validate:"min=64"`
	Height int     `json:"height" validate:"min=64"`
	FPS    float64 `json:"fps" validate:"gt=0,lte=120"`
}

// BufferSettings shapes the frame ring
type BufferSettings struct {
	Capacity   int           `json:"capacity" validate:"min=1,max=256"`
	StaleAfter time.Duration `json:"stale_after" validate:"gt=0"`
}

// DetectSettings shapes the inference client and its circuit breaker
type DetectSettings struct {
	URL                string        `json:"url" validate:"required,url"`
	MaxLatency         time.Duration `json:"max_latency" validate:"gt=0"`
	MaxInFlight        int           `json:"max_in_flight" validate:"min=1,max=64"`
	BreakerThreshold   int           `json:"breaker_threshold" validate:"min=1"`
	BreakerCooldown    time.Duration `json:"breaker_cooldown" validate:"gt=0"`
	BreakerCooldownMax time.Duration `json:"breaker_cooldown_max" validate:"gtefield=BreakerCooldown"`
}

// GeometrySettings describes the camera/boom rig
type GeometrySettings struct {
	FOVDeg        float64       `json:"fov_deg" validate:"gt=0,lt=180"`
	CameraHeightM float64       `json:"camera_height_m" validate:"gt=0"`
	MountOffsetM  float64       `json:"mount_offset_m" validate:"gte=0"`
	BoomWidthM    float64       `json:"boom_width_m" validate:"gt=0"`
	Nozzles       int           `json:"nozzles" validate:"min=1,max=32"`
	LeadMargin    time.Duration `json:"lead_margin" validate:"gte=0"`
	MinOpen       time.Duration `json:"min_open" validate:"gt=0"`
}

// SpeedSettings is the fallback ground speed when no odometry is attached
type SpeedSettings struct {
	FixedMPS float64 `json:"fixed_mps" validate:"gt=0,lte=10"`
}

// SerialSettings shapes the actuator link
type SerialSettings struct {
	Port       string        `json:"port" validate:"required_unless=Loopback true"`
	Baud       int           `json:"baud" validate:"min=1200"`
	AckTimeout time.Duration `json:"ack_timeout" validate:"gt=0"`
	Retries    int           `json:"retries" validate:"min=0,max=10"`
	Loopback   bool          `json:"loopback"`
}

// FailsafeSettings shapes pipeline-wide fail-safe escalation
type FailsafeSettings struct {
	CircuitTrips int `json:"circuit_trips" validate:"min=1"`
}

// MQTTSettings shapes the telemetry emitter; empty broker disables it
type MQTTSettings struct {
	Broker      string `json:"broker" validate:"omitempty,hostname_port"`
	TopicPrefix string `json:"topic_prefix" validate:"required"`
	QoS         int    `json:"qos" validate:"min=0,max=2"`
}

// APISettings shapes the local control API
type APISettings struct {
	Addr        string   `json:"addr" validate:"required,hostname_port"`
	CORSOrigins []string `json:"cors_origins" validate:"min=1"`
	Profiler    bool     `json:"profiler"`
}

// Settings is the full typed configuration, assembled from env once at startup
type Settings struct {
	Camera          CameraSettings   `json:"camera"`
	Buffer          BufferSettings   `json:"buffer"`
	Detect          DetectSettings   `json:"detect"`
	Geometry        GeometrySettings `json:"geometry"`
	Speed           SpeedSettings    `json:"speed"`
	Serial          SerialSettings   `json:"serial"`
	Failsafe        FailsafeSettings `json:"failsafe"`
	MQTT            MQTTSettings     `json:"mqtt"`
	API             APISettings      `json:"api"`
	SelfTestOnStart bool             `json:"selftest_on_start"`
}

// Load assembles Settings from the SPRAYER_ namespace with defaults applied.
// Nothing panics here; Validate reports every problem in one place
func Load(cfg Conf) Settings {
	return Settings{
		Camera: CameraSettings{
			Source: cfg.MayEnum("CAMERA_SOURCE", "sim", "sim", "device"),
			Device: cfg.MayInt("CAMERA_DEVICE", 0),
			Width:  cfg.MayInt("CAMERA_WIDTH", 640),
			Height: cfg.MayInt("CAMERA_HEIGHT", 480),
			FPS:    cfg.MayFloat64("CAMERA_FPS", 10),
		},
		Buffer: BufferSettings{
			Capacity:   cfg.MayInt("BUFFER_CAPACITY", 8),
			StaleAfter: cfg.MayDuration("BUFFER_STALE_AFTER", 500*time.Millisecond),
		},
		Detect: DetectSettings{
			URL:                cfg.MayString("DETECT_URL", ""),
			MaxLatency:         cfg.MayDuration("DETECT_MAX_LATENCY", 350*time.Millisecond),
			MaxInFlight:        cfg.MayInt("DETECT_MAX_IN_FLIGHT", 2),
			BreakerThreshold:   cfg.MayInt("DETECT_BREAKER_THRESHOLD", 3),
			BreakerCooldown:    cfg.MayDuration("DETECT_BREAKER_COOLDOWN", 2*time.Second),
			BreakerCooldownMax: cfg.MayDuration("DETECT_BREAKER_COOLDOWN_MAX", 30*time.Second),
		},
		Geometry: GeometrySettings{
			FOVDeg:        cfg.MayFloat64("GEOM_FOV_DEG", 62.2),
			CameraHeightM: cfg.MayFloat64("GEOM_CAMERA_HEIGHT_M", 0.8),
			MountOffsetM:  cfg.MayFloat64("GEOM_MOUNT_OFFSET_M", 0.35),
			BoomWidthM:    cfg.MayFloat64("GEOM_BOOM_WIDTH_M", 1.2),
			Nozzles:       cfg.MayInt("GEOM_NOZZLES", 4),
			LeadMargin:    cfg.MayDuration("GEOM_LEAD_MARGIN", 30*time.Millisecond),
			MinOpen:       cfg.MayDuration("GEOM_MIN_OPEN", 40*time.Millisecond),
		},
		Speed: SpeedSettings{
			FixedMPS: cfg.MayFloat64("SPEED_FIXED_MPS", 1.0),
		},
		Serial: SerialSettings{
			Port:       cfg.MayString("SERIAL_PORT", ""),
			Baud:       cfg.MayInt("SERIAL_BAUD", 115200),
			AckTimeout: cfg.MayDuration("SERIAL_ACK_TIMEOUT", 60*time.Millisecond),
			Retries:    cfg.MayInt("SERIAL_RETRIES", 3),
			Loopback:   cfg.MayBool("SERIAL_LOOPBACK", false),
		},
		Failsafe: FailsafeSettings{
			CircuitTrips: cfg.MayInt("FAILSAFE_CIRCUIT_TRIPS", 10),
		},
		MQTT: MQTTSettings{
			Broker:      cfg.MayString("MQTT_BROKER", ""),
			TopicPrefix: cfg.MayString("MQTT_TOPIC_PREFIX", "sprayer"),
			QoS:         cfg.MayInt("MQTT_QOS", 0),
		},
		API: APISettings{
			Addr:        cfg.MayString("API_ADDR", ":5040"),
			CORSOrigins: cfg.MayCSV("API_CORS_ORIGINS", []string{"*"}),
			Profiler:    cfg.MayBool("API_PROFILER", false),
		},
		SelfTestOnStart: cfg.MayBool("SELFTEST_ON_START", false),
	}
}

// Validate checks the assembled settings once at startup
func (s Settings) Validate() error {
	if err := validate.Get().Validator.Struct(s); err != nil {
		field, msg := validate.FieldAndMessage(err)
		return perr.WithField(perr.Newf(perr.ErrorCodeValidation, "settings: %s", msg), field)
	}
	return nil
}
