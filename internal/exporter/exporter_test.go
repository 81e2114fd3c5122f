package exporter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArgs(t *testing.T) {
	e := NewCLIExporter("/opt/exporter", "token123", nil)

	req := Request{
		ChannelID: "42",
		After:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Before:    time.Date(2024, 3, 1, 10, 33, 0, 0, time.UTC),
		OutPath:   "/tmp/out.json",
	}

	assert.Equal(t, []string{
		"export",
		"-c", "42",
		"-f", "Json",
		"-o", "/tmp/out.json",
		"--after", "2024-03-01T10:00:00Z",
		"--before", "2024-03-01T10:33:00Z",
		"--bot", "token123",
	}, e.args(req))
}

func TestArgs_NormalizesZone(t *testing.T) {
	e := NewCLIExporter("/opt/exporter", "t", nil)

	loc := time.FixedZone("CET", 3600)
	req := Request{
		ChannelID: "1",
		After:     time.Date(2024, 3, 1, 11, 0, 0, 0, loc),
		Before:    time.Date(2024, 3, 1, 12, 0, 0, 0, loc),
	}

	args := e.args(req)
	assert.Contains(t, args, "2024-03-01T10:00:00Z")
	assert.Contains(t, args, "2024-03-01T11:00:00Z")
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("  short \n", 500))

	long := strings.Repeat("x", 600)
	got := tail(long, 500)
	assert.Equal(t, 500+len("…"), len(got))
	assert.True(t, strings.HasPrefix(got, "…"))
}
