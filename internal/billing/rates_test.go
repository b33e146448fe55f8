package billing

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRates = `
models:
  kling-3.0:
    per_second:
      std: { silent: 55, audio: 80 }
      PRO: { silent: 75, audio: 110 }
  kling-2.6:
    buckets:
      - max_seconds: 10
        credits: 400
      - max_seconds: 5
        credits: 200
`

func TestParse(t *testing.T) {
	table, err := Parse([]byte(sampleRates), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	rate, ok := table.PerSecond("kling-3.0", "std", false)
	assert.True(t, ok)
	assert.Equal(t, 55, rate)

	rate, ok = table.PerSecond("Kling-3.0", "pro", true)
	assert.True(t, ok)
	assert.Equal(t, 110, rate)

	credits, ok := table.Bucket("kling-2.6", 5)
	assert.True(t, ok)
	assert.Equal(t, 200, credits)

	credits, ok = table.Bucket("kling-2.6", 7)
	assert.True(t, ok)
	assert.Equal(t, 400, credits)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("models: ["), nil)
	require.Error(t, err)

	_, err = Parse([]byte(`
models:
  m:
    per_second:
      std: { silent: 0, audio: 10 }
`), nil)
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = Parse([]byte(`
models:
  m:
    buckets:
      - max_seconds: 5
        credits: -1
`), nil)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestRateTable_MissIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	table := New(nil, logger)

	_, ok := table.PerSecond("kling-3.0", "std", true)
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "billing rate not configured")
	assert.Contains(t, buf.String(), "model=kling-3.0")

	buf.Reset()
	_, ok = table.Bucket("kling-2.6", 20)
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "kind=bucket")
}

func TestRateTable_Nil(t *testing.T) {
	var table *RateTable

	_, ok := table.PerSecond("any", "std", false)
	assert.False(t, ok)
	_, ok = table.Bucket("any", 5)
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
}

func TestRateTable_BucketBeyondRange(t *testing.T) {
	table, err := Parse([]byte(sampleRates), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)

	_, ok := table.Bucket("kling-2.6", 11)
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRates), 0o600))

	table, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	empty, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
