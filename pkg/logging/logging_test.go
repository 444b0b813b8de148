package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, levelFor(0))
	assert.Equal(t, zerolog.InfoLevel, levelFor(1))
	assert.Equal(t, zerolog.DebugLevel, levelFor(2))
	assert.Equal(t, zerolog.TraceLevel, levelFor(5))
}

func TestSetupLoggerWritesLogFile(t *testing.T) {
	stateDir := t.TempDir()
	t.Setenv(EnvStateDir, stateDir)
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var console bytes.Buffer
	SetupLoggerWithOutput(1, &console)
	logger := GetLogger("test")
	logger.Info().Str("installation", "main").Msg("hello")

	data, err := os.ReadFile(filepath.Join(stateDir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"installation":"main"`)
	assert.Contains(t, console.String(), "hello")
}

func TestTimeOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(prev)

	done := TimeOperation(logger, "resolve")
	done()

	out := buf.String()
	assert.Contains(t, out, "Operation started")
	assert.Contains(t, out, "Operation completed")
	assert.Contains(t, out, `"operation":"resolve"`)
	assert.Contains(t, out, "duration")
}
