package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/kantoor/internal/config"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"

	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"

	defaultSamplingRatio = 0.1
)

// Config holds observability settings. Values come from the app config and
// may be overridden by the standard OTEL_* and LOG_* variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(getenv("OTEL_SERVICE_NAME", cfg.AppName))
	if serviceName == "" {
		serviceName = "kantoor"
	}

	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", ProtocolGRPC)
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          getenv("DEPLOYMENT_ENV", strings.TrimSpace(cfg.Environment)),
		Version:              getenv("SERVICE_VERSION", strings.TrimSpace(cfg.AppVersion)),
		LogLevel:             strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:            normalizeLogFormat(getenv("LOG_FORMAT", LogFormatJSON)),
		OtelEnabled:          getenvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", strings.TrimSpace(cfg.OTLPEndpoint)),
		OtelExporterProtocol: normalizeProtocol(protocol),
		OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", defaultSamplingRatio),
	}
}

// Debug enables verbose logging for debug level or a development environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func normalizeLogFormat(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case LogFormatConsole, "text", "pretty":
		return LogFormatConsole
	default:
		return LogFormatJSON
	}
}

// normalizeProtocol folds the OTLP protocol spellings onto the two exporters
// the tracing provider builds.
func normalizeProtocol(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ProtocolHTTP, "http/protobuf", "http/json":
		return ProtocolHTTP
	default:
		return ProtocolGRPC
	}
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
