package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMode(t *testing.T) {
	tests := []struct {
		input    string
		expected OutputMode
	}{
		{"text", ModeText},
		{"TEXT", ModeText},
		{"markdown", ModeMarkdown},
		{"md", ModeMarkdown},
		{"json", ModeJSON},
		{"auto", ModeAuto},
		{"", ModeAuto},
		{"bogus", ModeAuto},
		{" json ", ModeJSON},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Mode(tt.input))
		})
	}
}

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		name     string
		mode     OutputMode
		isTTY    bool
		expected OutputMode
	}{
		{"auto on tty", ModeAuto, true, ModeText},
		{"auto piped", ModeAuto, false, ModeMarkdown},
		{"explicit text piped", ModeText, false, ModeText},
		{"explicit markdown on tty", ModeMarkdown, true, ModeMarkdown},
		{"explicit json", ModeJSON, false, ModeJSON},
		{"empty mode piped", OutputMode(""), false, ModeMarkdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, tt.isTTY, tt.mode)
			assert.Equal(t, tt.expected, r.EffectiveMode())
			assert.Equal(t, tt.isTTY, r.IsTTY())
		})
	}
}

func TestHeader(t *testing.T) {
	t.Run("markdown mode emits hash headers", func(t *testing.T) {
		out := &bytes.Buffer{}
		r := NewRendererWithTTY(out, &bytes.Buffer{}, false, ModeMarkdown)

		r.Header(1, "Plan")
		r.Header(2, "Steps")

		assert.Equal(t, "# Plan\n## Steps\n", out.String())
	})

	t.Run("text mode emits the bare title", func(t *testing.T) {
		out := &bytes.Buffer{}
		r := NewRendererWithTTY(out, &bytes.Buffer{}, true, ModeText)

		r.Header(1, "Plan")

		assert.Contains(t, out.String(), "Plan")
		assert.NotContains(t, out.String(), "#")
	})
}

func TestStatusLine(t *testing.T) {
	t.Run("markdown", func(t *testing.T) {
		out := &bytes.Buffer{}
		r := NewRendererWithTTY(out, &bytes.Buffer{}, false, ModeMarkdown)

		r.StatusLine("orders", "success", "models/orders.sql")
		r.StatusLine("stg_orders", "planned", "")

		assert.Contains(t, out.String(), "- [SUCCESS] orders (models/orders.sql)")
		assert.Contains(t, out.String(), "- [PLANNED] stg_orders")
	})

	t.Run("text carries the item name", func(t *testing.T) {
		out := &bytes.Buffer{}
		r := NewRendererWithTTY(out, &bytes.Buffer{}, true, ModeText)

		r.StatusLine("orders", "failed", "")

		assert.Contains(t, out.String(), "orders")
	})
}

func TestJSON(t *testing.T) {
	out := &bytes.Buffer{}
	r := NewRendererWithTTY(out, &bytes.Buffer{}, false, ModeJSON)

	require.NoError(t, r.JSON(ListOutput{
		Project: "jaffle_shop",
		Summary: ListSummary{Total: 2, ByType: map[string]int{"model": 2}},
	}))

	var decoded ListOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "jaffle_shop", decoded.Project)
	assert.Equal(t, 2, decoded.Summary.Total)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "# Title", FormatHeader(1, "Title"))
	assert.Equal(t, "### Deep", FormatHeader(3, "Deep"))
	assert.Equal(t, "# Clamped", FormatHeader(0, "Clamped"))
	assert.Equal(t, "- **File**: models/orders.sql", FormatKeyValue("File", "models/orders.sql"))

	block := FormatCodeBlock("sql", "select 1\n")
	assert.True(t, strings.HasPrefix(block, "```sql\n"))
	assert.True(t, strings.HasSuffix(block, "\n```"))
	assert.Equal(t, 2, strings.Count(block, "```"))
}

func TestMessageLines(t *testing.T) {
	out := &bytes.Buffer{}
	r := NewRendererWithTTY(out, &bytes.Buffer{}, false, ModeMarkdown)

	r.Success("created group ops")
	r.Warning("no catalog found")
	r.Muted("source: models/")

	got := out.String()
	assert.Contains(t, got, "**created group ops**")
	assert.Contains(t, got, "**Warning**: no catalog found")
	assert.Contains(t, got, "source: models/")
}
