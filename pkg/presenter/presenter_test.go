package presenter

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOptions(t *testing.T) {
	var output, errorOutput bytes.Buffer
	p := NewWithOptions(&output, &errorOutput, ColorNever)

	assert.Equal(t, &output, p.output)
	assert.Equal(t, &errorOutput, p.errorOutput)
	assert.Equal(t, ColorNever, p.colorMode)
	assert.False(t, p.IsQuiet())
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		sgColor  string
		expected ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"SKILLGATE_COLOR always", "", "always", ColorAlways},
		{"SKILLGATE_COLOR force", "", "force", ColorAlways},
		{"SKILLGATE_COLOR never", "", "never", ColorNever},
		{"SKILLGATE_COLOR off", "", "off", ColorNever},
		{"default", "", "", ColorAuto},
		{"unknown value", "", "sometimes", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("SKILLGATE_COLOR", tt.sgColor)
			if tt.noColor == "" {
				os.Unsetenv("NO_COLOR")
			}
			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestError(t *testing.T) {
	var errorOutput bytes.Buffer
	p := NewWithOptions(nil, &errorOutput, ColorNever)
	p.SetQuiet(true)

	p.Error(errors.New("lock timeout"), "ingest failed")
	assert.Equal(t, "[ERROR] ingest failed: lock timeout\n", errorOutput.String())

	errorOutput.Reset()
	p.Error(errors.New("lock timeout"), "")
	assert.Equal(t, "[ERROR] lock timeout\n", errorOutput.String())

	errorOutput.Reset()
	p.Error(nil, "context")
	assert.Empty(t, errorOutput.String())
}

func TestMessages(t *testing.T) {
	var output bytes.Buffer
	p := NewWithOptions(&output, nil, ColorNever)

	p.Success("saved")
	p.Warning("2 corrupt records")
	p.Info("done")
	assert.Equal(t, "✓ saved\n⚠ 2 corrupt records\ndone\n", output.String())

	output.Reset()
	p.SetQuiet(true)
	p.Success("saved")
	p.Warning("warn")
	p.Info("info")
	p.Section("title")
	p.Separator()
	p.Table([]string{"A"}, [][]string{{"1"}})
	p.Diff("+x\n")
	assert.Empty(t, output.String())
}

func TestSection(t *testing.T) {
	var output bytes.Buffer
	p := NewWithOptions(&output, nil, ColorNever)

	p.Section("Transitions")

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Transitions", lines[0])
	assert.Equal(t, strings.Repeat("-", len("Transitions")), lines[1])
}

func TestTable(t *testing.T) {
	var output bytes.Buffer
	p := NewWithOptions(&output, nil, ColorNever)

	p.Table([]string{"NAME", "LEVEL"}, [][]string{{"golang", "2"}, {"kubernetes", "3"}})

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "NAME        LEVEL", lines[0])
	assert.Equal(t, "kubernetes  3", lines[2])
}

func TestDiff(t *testing.T) {
	var output bytes.Buffer
	p := NewWithOptions(&output, nil, ColorNever)

	diff := "--- a\n+++ b\n@@ -1 +1 @@\n-old\n+new\n"
	p.Diff(diff)
	assert.Equal(t, diff, output.String())

	output.Reset()
	p.Diff("")
	assert.Empty(t, output.String())
}

func TestGlobalFunctions(t *testing.T) {
	original := defaultPresenter
	defer func() { defaultPresenter = original }()

	var output, errorOutput bytes.Buffer
	defaultPresenter = NewWithOptions(&output, &errorOutput, ColorNever)

	Error(errors.New("boom"), "ledger")
	assert.Contains(t, errorOutput.String(), "[ERROR] ledger: boom")

	Success("ok")
	Warning("careful")
	Info("note")
	Section("Audit")
	Separator()
	Table([]string{"K"}, [][]string{{"v"}})
	Diff("+added\n")
	out := output.String()
	for _, want := range []string{"✓ ok", "⚠ careful", "note", "Audit", strings.Repeat("-", 60), "K", "+added"} {
		assert.Contains(t, out, want)
	}

	SetQuiet(true)
	assert.True(t, IsQuiet())
	output.Reset()
	Info("hidden")
	assert.Empty(t, output.String())
	SetQuiet(false)
}
