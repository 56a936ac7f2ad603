// Command rtmpcastd runs the RTMP broadcast server: it loads configuration
// from the environment, wires the protocol core to its authorizer and
// admission back-ends, and serves connections until terminated.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/riverfeed/rtmpcast/config"
	"github.com/riverfeed/rtmpcast/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rtmpcastd: configuration error:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rtmpcastd: logger error:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("rtmpcastd: failed to construct server", zap.Error(err))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Info("rtmpcastd: received signal, shutting down", zap.String("signal", s.String()))
		srv.Shutdown()
	}()

	if err := srv.Run(); err != nil {
		logger.Error("rtmpcastd: server exited with an error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("rtmpcastd: clean shutdown")
}

// newLogger builds a zap.Logger whose level reflects the LOG_* filters in
// cfg: each level is included only when its corresponding flag is set.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(enc),
		zapcore.Lock(os.Stdout),
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			switch lvl {
			case zapcore.DebugLevel:
				return cfg.LogDebug
			case zapcore.InfoLevel:
				return cfg.LogInfo
			case zapcore.WarnLevel:
				return cfg.LogWarning
			case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
				return cfg.LogError
			default:
				return true
			}
		}),
	)
	return zap.New(core), nil
}
