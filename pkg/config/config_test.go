package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/tracecurve/pkg/curve"
	"github.com/unijord/tracecurve/pkg/ledger"
	"github.com/unijord/tracecurve/pkg/tracelog"
)

const legacyConfig = `
# data directory
/var/trace/data

# max number of simultaneous threads
5

# raw curves
block: cpu0 busy
down=cpu0 idle
up=cpu0 run

spike: irq
irq [0-9]+
ignore:
noise.*
toggle: gc
gc pass
`

func TestParseLegacy(t *testing.T) {
	cfg, err := ParseLegacy(strings.NewReader(legacyConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/trace/data", cfg.DataDir)
	assert.Equal(t, 5, cfg.MaxJobs)
	assert.Equal(t, tracelog.ModeBuffered, cfg.Reader)
	assert.True(t, cfg.Stage)
	assert.Equal(t, []curve.Definition{
		{Kind: "block", Name: "cpu0 busy", Up: "cpu0 run", Down: "cpu0 idle"},
		{Kind: "spike", Name: "irq", Up: "irq [0-9]+"},
		{Kind: "ignore", Up: "noise.*"},
		{Kind: "toggle", Name: "gc", Up: "gc pass"},
	}, cfg.Curves)
}

func TestParseLegacy_Defaults(t *testing.T) {
	cfg, err := ParseLegacy(strings.NewReader("# data directory\n/d\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxJobs)
	assert.Empty(t, cfg.Curves)
}

func TestParseLegacy_LinesBeforeCurvesAreIgnored(t *testing.T) {
	cfg, err := ParseLegacy(strings.NewReader("some comment\nspike: x\n# raw curves\nspike: y\ny\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Curves, 1)
	assert.Equal(t, "y", cfg.Curves[0].Name)
}

func TestParseLegacy_CRLF(t *testing.T) {
	cfg, err := ParseLegacy(strings.NewReader(strings.ReplaceAll(legacyConfig, "\n", "\r\n")))
	require.NoError(t, err)
	assert.Equal(t, "/var/trace/data", cfg.DataDir)
	assert.Equal(t, "cpu0 idle", cfg.Curves[0].Down)
}

func TestParseLegacy_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
		line  int
	}{
		{"data dir at eof", "# data directory\n", ErrUnexpectedEOF, 2},
		{"max jobs at eof", "# max number of jobs", ErrUnexpectedEOF, 2},
		{"max jobs not int", "# max number of jobs\nfour\n", strconv.ErrSyntax, 2},
		{"header without colon", "# raw curves\nspike irq\n", ErrMalformedHeader, 2},
		{"pattern at eof", "# raw curves\nspike: irq\n", ErrUnexpectedEOF, 3},
		{"block missing down", "# raw curves\nblock: b\nup=x\n", ErrUnexpectedEOF, 4},
		{"block bad prefix", "# raw curves\nblock: b\nup=x\nsideways=y\n", ErrMalformedBlock, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLegacy(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var lerr *LineError
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, tt.line, lerr.Line)
		})
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "run.yaml", `
data_dir: `+dir+`
max_jobs: 8
reader: mmap
stage: false
ledger:
  driver: sqlite
  path: /tmp/ledger.sqlite
curves:
  - type: block
    name: cpu0
    up: cpu0 run
    down: cpu0 idle
  - type: ignore
    up: noise.*
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 8, cfg.MaxJobs)
	assert.Equal(t, tracelog.ModeMmap, cfg.Reader)
	assert.False(t, cfg.Stage)
	assert.Equal(t, LedgerConfig{Driver: ledger.DriverSQLite, Path: "/tmp/ledger.sqlite"}, cfg.Ledger)
	require.Len(t, cfg.Curves, 2)
	assert.Equal(t, curve.KindBlock, cfg.Curves[0].Kind)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "run.yml", "data_dir: "+dir+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxJobs)
	assert.True(t, cfg.Stage)
	assert.Equal(t, tracelog.ModeBuffered, cfg.Reader)
	assert.Equal(t, ledger.DriverBolt, cfg.Ledger.Driver)
}

func TestLoad_YAMLUnknownField(t *testing.T) {
	path := writeFile(t, t.TempDir(), "run.yaml", "data_dir: /d\nmax_job: 3\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_Legacy(t *testing.T) {
	path := writeFile(t, t.TempDir(), "trace.cfg", legacyConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxJobs)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_ReportsEverything(t *testing.T) {
	file := writeFile(t, t.TempDir(), "plain", "")
	cfg := Config{
		DataDir: file,
		MaxJobs: 0,
		Reader:  "tape",
		Ledger:  LedgerConfig{Driver: "csv", Path: "/x"},
		Curves: []curve.Definition{
			{Kind: "spike", Up: "x"},
			{Kind: "block", Name: "b", Up: "(", Down: "y"},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotDir)
	assert.ErrorIs(t, err, ErrBadMaxJobs)
	assert.ErrorIs(t, err, tracelog.ErrUnknownMode)
	assert.ErrorIs(t, err, ledger.ErrUnknownDriver)
	assert.ErrorIs(t, err, curve.ErrEmptyName)

	var ve *curve.ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 5)
}

func TestValidate_PatternErrors(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.Curves = []curve.Definition{
		{Kind: "spike", Name: "a", Up: "("},
		{Kind: "block", Name: "b", Up: "ok", Down: "[z-a]"},
	}

	err := cfg.Validate()
	var perr *curve.PatternError
	require.True(t, errors.As(err, &perr))

	var ve *curve.ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 2)
}

func TestValidate_MissingDataDir(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrNoDataDir)

	cfg.DataDir = filepath.Join(t.TempDir(), "absent")
	assert.ErrorIs(t, cfg.Validate(), os.ErrNotExist)
}

func TestValidate_LedgerDriverIgnoredWithoutPath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.Ledger.Driver = "csv"
	assert.NoError(t, cfg.Validate())
}

func TestParseNodeList(t *testing.T) {
	nodes, err := ParseNodeList(strings.NewReader("nodelist\n n01 \n\nn02\r\n  \nn03"))
	require.NoError(t, err)
	assert.Equal(t, []string{"n01", "n02", "n03"}, nodes)
}

func TestReadNodeList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nodelist", "a\nb\n")

	nodes, err := ReadNodeList(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, nodes)

	_, err = ReadNodeList(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNodeDir(t *testing.T) {
	cfg := Config{DataDir: "/data"}
	assert.Equal(t, filepath.Join("/data", "n01"), cfg.NodeDir("n01"))
	assert.Equal(t, "/data/nodelist", NodeListPath("/data"))
}

func TestIsYAML(t *testing.T) {
	assert.True(t, IsYAML("a.yaml"))
	assert.True(t, IsYAML("a.YML"))
	assert.False(t, IsYAML("a.cfg"))
	assert.False(t, IsYAML("yaml"))
}
