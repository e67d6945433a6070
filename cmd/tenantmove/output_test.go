package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/tenantmove/internal/archive"
	"github.com/willibrandon/tenantmove/internal/queue"
)

func sampleRequests() []queue.Request {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	return []queue.Request{
		{ID: 2, Email: "bob@acme.test", SourceAlias: "acme", DestRegion: "eu", Status: queue.StatusPending, RequestDate: start},
		{ID: 1, UserName: "alice", SourceAlias: "acme", Status: queue.StatusSuccess, RequestDate: start,
			StartDate: &start, EndDate: &end, Alias: "alice"},
	}
}

func TestParseOutputFormat(t *testing.T) {
	for _, s := range []string{"table", "json", "yaml"} {
		f, err := parseOutputFormat(s)
		require.NoError(t, err)
		assert.Equal(t, outputFormat(s), f)
	}
	_, err := parseOutputFormat("csv")
	assert.Error(t, err)
}

func TestPrintRequestsYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRequests(&buf, sampleRequests(), formatYAML))

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "pending", decoded[0]["status"])
	assert.Equal(t, "alice", decoded[1]["alias"])
}

func TestPrintRequestsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRequests(&buf, sampleRequests(), formatTable))

	out := buf.String()
	assert.Contains(t, out, "eu/(new)")
	assert.Contains(t, out, "home/acme")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "alice")

	buf.Reset()
	require.NoError(t, printRequests(&buf, nil, formatTable))
	assert.Equal(t, "No requests\n", buf.String())
}

func TestManifestTree(t *testing.T) {
	m := &archive.Manifest{Tables: []archive.TableEntry{
		{Key: "files/files_folder", Rows: 2},
		{Key: "files/files_file", Rows: 1200},
		{Key: "core/core_user", Rows: 1},
	}}

	out := manifestTree(m).String()
	assert.True(t, strings.HasPrefix(out, "tables (3)"))
	assert.Contains(t, out, "files_file  1,200 rows")
	assert.Equal(t, 1, strings.Count(out, "files\n"))
}
