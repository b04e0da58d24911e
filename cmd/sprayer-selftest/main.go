package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sprayer/internal/adapters/actuator"
	"sprayer/internal/platform/config"
	"sprayer/internal/platform/logger"
)

func main() {
	_ = godotenv.Load()

	var (
		fInterval = flag.Duration("interval", 150*time.Millisecond, "dwell between OPEN and CLOSE per nozzle")
		fLoopback = flag.Bool("loopback", false, "drive a simulated MCU instead of the serial port")
	)
	flag.Parse()

	root := config.New()
	st := config.Load(root.Prefix("SPRAYER_"))
	l := logger.Get()
	if *fLoopback {
		st.Serial.Loopback = true
	}

	var port actuator.Port
	if st.Serial.Loopback {
		l.Info().Msg("loopback self-test against a simulated MCU")
		port = actuator.NewMCUSim()
	} else {
		if st.Serial.Port == "" {
			l.Fatal().Msg("SPRAYER_SERIAL_PORT is required without -loopback")
		}
		p, err := actuator.OpenSerial(st.Serial.Port, st.Serial.Baud)
		if err != nil {
			l.Fatal().Err(err).Str("port", st.Serial.Port).Msg("failed to open serial port")
		}
		port = p
	}

	boom := actuator.NewChannel(port, actuator.Options{
		Nozzles:    st.Geometry.Nozzles,
		AckTimeout: st.Serial.AckTimeout,
		MaxRetries: st.Serial.Retries,
	}, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	results := actuator.SelfTest(ctx, boom, *fInterval)
	stop()

	failed := 0
	for _, res := range results {
		if res.OK {
			l.Info().Int("nozzle", res.Nozzle).Msg("nozzle ok")
			continue
		}
		failed++
		l.Error().Err(res.Err).Int("nozzle", res.Nozzle).Msg("nozzle failed")
	}

	// Close drives every nozzle CLOSE before releasing the port
	if err := boom.Close(); err != nil {
		l.Error().Err(err).Msg("failed to close actuator channel")
	}

	if failed > 0 {
		l.Error().Int("failed", failed).Int("nozzles", len(results)).Msg("self-test failed")
		os.Exit(1)
	}
	l.Info().Int("nozzles", len(results)).Msg("self-test passed")
}
