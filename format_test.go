package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// go test runs with stdout attached to a pipe, so the terminal-aware
// helpers take their machine-friendly branch here.

func TestFormatSize_Piped(t *testing.T) {
	assert.Equal(t, "0", formatSize(0))
	assert.Equal(t, "512", formatSize(512))
	assert.Equal(t, "5242880", formatSize(5242880))
}

func TestFormatTime_Piped(t *testing.T) {
	ts := time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-15T10:30:00Z", formatTime(ts))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"ROOT", "LEAVES", "DELETED"}
	rows := [][]string{
		{"root-alpha", "120", "3"},
		{"r2", "7", "0"},
	}

	printTable(&buf, headers, rows)
	output := buf.String()

	assert.Contains(t, output, "ROOT")
	assert.Contains(t, output, "root-alpha")
	assert.Contains(t, output, "r2")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 3)

	// Columns align: every line is padded to the same cell widths.
	assert.Equal(t, len(lines[0]), len(lines[1]))
}
