package logger

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/Brownie44l1/leaf-infer/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var once sync.Once

// Init installs the global console logger with the configured level. Later
// calls are no-ops.
func Init(cfg *config.Configs) {
	once.Do(func() {
		appName := cfg.AppName
		if appName == "" {
			appName = "leaf-infer"
		}
		level, err := ParseLevel(cfg.AppLogLevel)
		if err != nil {
			log.Warn().Err(err).Msg("Falling back to INFO log level")
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)

		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			parts := strings.Split(file, "/")
			return parts[len(parts)-1] + ":" + strconv.Itoa(line)
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "02-01-2006 15:04:05.000",
			FormatLevel: func(i interface{}) string {
				return strings.ToUpper(fmt.Sprintf("%-6s", i))
			},
			PartsOrder: []string{
				"applicationName",
				zerolog.TimestampFieldName,
				zerolog.LevelFieldName,
				zerolog.CallerFieldName,
				zerolog.MessageFieldName,
			},
			FieldsExclude: []string{"applicationName"},
		}).With().Timestamp().Caller().Str("applicationName", appName).Logger()

		log.Info().Msgf("Logger initialized at %s level", level)
	})
}

// ParseLevel maps the configured level name onto a zerolog level.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "INFO":
		return zerolog.InfoLevel, nil
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "WARN":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "FATAL":
		return zerolog.FatalLevel, nil
	case "PANIC":
		return zerolog.PanicLevel, nil
	case "DISABLED":
		return zerolog.Disabled, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("incorrect log level %q", name)
}
