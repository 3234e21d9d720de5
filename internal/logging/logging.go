// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("service", "callbackd"))

	return logger, nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("CALLBACKD_LOG_LEVEL", "info"),
		Format: getenv("CALLBACKD_LOG_FORMAT", "json"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Port returns a zap field for the port number.
func Port(port int) zap.Field { return zap.Int("port", port) }

// Domain returns a zap field for a domain name.
func Domain(domain string) zap.Field { return zap.String("domain", domain) }

// Token returns a zap field for a capture token code.
func Token(code string) zap.Field { return zap.String("token", code) }

// RemoteIP returns a zap field for a resolved client IP address.
func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// Path returns a zap field for a URL path.
func Path(path string) zap.Field { return zap.String("path", path) }

// Rule returns a zap field for a PoC rule name.
func Rule(name string) zap.Field { return zap.String("rule", name) }

// ExfilType returns a zap field for an exfiltration category.
func ExfilType(t string) zap.Field { return zap.String("exfil_type", t) }

// RequestID returns a zap field for the per-request correlation ID.
func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// Protocol returns a zap field for a capture protocol.
func Protocol(proto string) zap.Field { return zap.String("protocol", proto) }

// Net returns a zap field for a network type.
func Net(net string) zap.Field { return zap.String("net", net) }

// QName returns a zap field for a DNS query name.
func QName(qname string) zap.Field { return zap.String("qname", qname) }
