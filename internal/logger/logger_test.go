package logger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/citehub/citehub/internal/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   string
		debug   bool
		wantErr bool
	}{
		{name: "production info", level: "info", debug: false},
		{name: "production warn", level: "warn", debug: false},
		{name: "debug mode", level: "info", debug: true},
		{name: "invalid level", level: "loud", wantErr: true},
	}

	for i := range tests {
		test := &tests[i]
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			log, err := logger.New(test.level, test.debug)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, log)

			log.Debug("debug message", logger.String("key", "value"))
			log.Info("info message", logger.Int("count", 1))
		})
	}
}

func TestNewNop(t *testing.T) {
	t.Parallel()

	log := logger.NewNop()
	require.NotNil(t, log)

	log.Info("discarded", logger.Bool("ok", true))
	withLog := log.With(logger.String("component", "test"))
	require.NotNil(t, withLog)
	require.NoError(t, withLog.Sync())
}
