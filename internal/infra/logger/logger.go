// internal/infra/logger/logger.go
package logger

import (
	"os"
	"strings"

	"reward_verification_service/internal/infra/config"

	"github.com/sirupsen/logrus"
)

const serviceName = "reward-verification"

// Log is the global logger instance
var Log = logrus.New()

// identityHook stamps every entry with the service and environment.
type identityHook struct {
	environment string
}

func (h identityHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h identityHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = serviceName
	}
	e.Data["env"] = h.environment
	return nil
}

// Init configures the global logger from the application configuration.
func Init(cfg *config.AppConfig) {
	Log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		Log.Warnf("Invalid log level '%s', defaulting to 'info'. Error: %v", cfg.LogLevel, err)
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	switch strings.ToLower(cfg.Environment) {
	case "production", "staging":
		Log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "message"},
		})
	default:
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	Log.ReplaceHooks(logrus.LevelHooks{})
	Log.AddHook(identityHook{environment: cfg.Environment})

	Log.WithField("level", level.String()).Debug("Logger initialized")
}

// Component returns an entry tagged with the component name, the form every service takes.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
