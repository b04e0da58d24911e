package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sprayer/internal/adapters/actuator"
	"sprayer/internal/adapters/camera"
	"sprayer/internal/adapters/detect"
	"sprayer/internal/adapters/telemetry"
	"sprayer/internal/core/events"
	"sprayer/internal/core/geometry"
	"sprayer/internal/core/version"
	"sprayer/internal/platform/config"
	"sprayer/internal/platform/logger"
	phttp "sprayer/internal/platform/net/http"
	"sprayer/internal/platform/net/middleware"
	controlhttp "sprayer/internal/services/control/http"
	"sprayer/internal/services/pipeline/service"
)

func main() {
	_ = godotenv.Load()

	root := config.New()
	st := config.Load(root.Prefix("SPRAYER_"))
	l := logger.Get()
	if err := st.Validate(); err != nil {
		l.Panic().Err(err).Msg("invalid settings")
	}

	bi := version.Info()
	l.Info().Str("version", bi.Version).Str("commit", bi.Commit).Msg("sprayerd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cam := openCamera(st, l)
	defer func() {
		if err := cam.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close camera")
		}
	}()

	emit, mq := buildEmitter(ctx, st, l)
	if mq != nil {
		defer mq.Close()
	}

	boom := actuator.NewChannel(openPort(st, l), actuator.Options{
		Nozzles:    st.Geometry.Nozzles,
		AckTimeout: st.Serial.AckTimeout,
		MaxRetries: st.Serial.Retries,
	}, emit)
	defer func() {
		if err := boom.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close actuator channel")
		}
	}()

	if st.SelfTestOnStart {
		runSelfTest(ctx, boom, l)
	}

	det := detect.NewClient(detect.Options{
		BaseURL:            st.Detect.URL,
		MaxLatency:         st.Detect.MaxLatency,
		MaxInFlight:        st.Detect.MaxInFlight,
		BreakerThreshold:   st.Detect.BreakerThreshold,
		BreakerCooldown:    st.Detect.BreakerCooldown,
		BreakerCooldownMax: st.Detect.BreakerCooldownMax,
	}, emit)
	defer det.Close()

	pipe := service.New(cam, det, boom, service.Config{
		FPS:            st.Camera.FPS,
		SpeedMPS:       st.Speed.FixedMPS,
		MaxInFlight:    st.Detect.MaxInFlight,
		CircuitTrips:   st.Failsafe.CircuitTrips,
		BufferCapacity: st.Buffer.Capacity,
		StaleAfter:     st.Buffer.StaleAfter,
		Geometry: geometry.Geometry{
			FOVDeg:        st.Geometry.FOVDeg,
			CameraHeightM: st.Geometry.CameraHeightM,
			MountOffsetM:  st.Geometry.MountOffsetM,
			BoomWidthM:    st.Geometry.BoomWidthM,
			Nozzles:       st.Geometry.Nozzles,
			ImageW:        st.Camera.Width,
			ImageH:        st.Camera.Height,
			LeadMargin:    st.Geometry.LeadMargin,
			MinOpen:       st.Geometry.MinOpen,
		},
	}, emit)

	srv := phttp.NewServer(root.Prefix("SPRAYER_"))
	r := srv.Router()
	r.Use(middleware.Defaults()...)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.CORS(middleware.CORSOptions{AllowedOrigins: st.API.CORSOrigins}))
	r.Use(middleware.AccessLogZerolog(middleware.AccessLogOptions{Slow: time.Second}))
	controlhttp.Register(r, controlhttp.Deps{
		ServiceName: "sprayerd",
		StartedAt:   time.Now(),
		Control:     pipe,
	})
	phttp.MountProfiler(r, "/debug", st.API.Profiler)

	pipeDone := make(chan error, 1)
	go func() { pipeDone <- pipe.Run(ctx) }()
	httpDone := make(chan error, 1)
	go func() { httpDone <- srv.Run(ctx) }()

	var pipeErr, httpErr error
	pipeStopped, httpStopped := false, false
	select {
	case <-ctx.Done():
		l.Info().Msg("shutdown signal received")
	case pipeErr = <-pipeDone:
		pipeStopped = true
	case httpErr = <-httpDone:
		httpStopped = true
	}
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		l.Error().Err(err).Msg("http shutdown failed")
	}
	if !pipeStopped {
		pipeErr = <-pipeDone
	}
	if !httpStopped {
		httpErr = <-httpDone
	}
	if pipeErr != nil && !errors.Is(pipeErr, context.Canceled) {
		l.Error().Err(pipeErr).Msg("pipeline stopped with error")
	}
	if httpErr != nil {
		l.Error().Err(httpErr).Msg("control api stopped with error")
	}

	// deferred closes run in reverse: inference client, then the actuator
	// channel (all-close before port release), then telemetry and camera
	l.Info().Msg("sprayerd stopping")
}

func openCamera(st config.Settings, l *logger.Logger) camera.Source {
	if st.Camera.Source == "device" {
		cam, err := camera.OpenWebcam(strconv.Itoa(st.Camera.Device), st.Camera.Width, st.Camera.Height)
		if err != nil {
			l.Panic().Err(err).Int("device", st.Camera.Device).Msg("failed to open camera device")
		}
		return cam
	}
	return camera.NewSim(st.Camera.Width, st.Camera.Height, st.Speed.FixedMPS)
}

func openPort(st config.Settings, l *logger.Logger) actuator.Port {
	if st.Serial.Loopback {
		l.Warn().Msg("serial loopback enabled; driving a simulated MCU")
		return actuator.NewMCUSim()
	}
	port, err := actuator.OpenSerial(st.Serial.Port, st.Serial.Baud)
	if err != nil {
		l.Panic().Err(err).Str("port", st.Serial.Port).Msg("failed to open serial port")
	}
	return port
}

func buildEmitter(ctx context.Context, st config.Settings, l *logger.Logger) (events.Emitter, *telemetry.MQTT) {
	if st.MQTT.Broker == "" {
		return telemetry.NewLog(), nil
	}

	mq := telemetry.NewMQTT(telemetry.Options{
		Broker:      st.MQTT.Broker,
		TopicPrefix: st.MQTT.TopicPrefix,
		QoS:         byte(st.MQTT.QoS),
	})
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mq.Connect(dialCtx); err != nil {
		l.Warn().Err(err).Str("broker", st.MQTT.Broker).Msg("mqtt connect failed; telemetry degrades to logs")
		mq.Close()
		return telemetry.NewLog(), nil
	}
	return telemetry.Fanout{telemetry.NewLog(), mq}, mq
}

func runSelfTest(ctx context.Context, boom *actuator.Channel, l *logger.Logger) {
	results := actuator.SelfTest(ctx, boom, 100*time.Millisecond)
	failed := 0
	for _, res := range results {
		if res.OK {
			continue
		}
		failed++
		l.Error().Err(res.Err).Int("nozzle", res.Nozzle).Msg("self-test nozzle failed")
	}
	if failed > 0 {
		l.Panic().Int("failed", failed).Int("nozzles", len(results)).Msg("actuator self-test failed")
	}
	l.Info().Int("nozzles", len(results)).Msg("actuator self-test passed")
}
