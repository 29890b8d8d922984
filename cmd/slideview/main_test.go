package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidekit/slideview/pkg/viewer"
)

func TestStringList_Set(t *testing.T) {
	var l stringList
	require.NoError(t, l.Set("/data/slides"))
	require.NoError(t, l.Set("gs://bucket/wsi, /other/dir"))
	require.NoError(t, l.Set(" , "))

	assert.Equal(t, stringList{"/data/slides", "gs://bucket/wsi", "/other/dir"}, l)
	assert.Equal(t, "/data/slides,gs://bucket/wsi,/other/dir", l.String())
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := &viewer.Config{}
	cfg.Server.Addr = ":8000"
	cfg.Session.TTLMinutes = 60

	applyFlagOverrides(cfg, &serverOptions{addr: ":9999", sessionTTL: 15})
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 15, cfg.Session.TTLMinutes)

	// Unset flags leave config values alone; -1 means "not given".
	applyFlagOverrides(cfg, &serverOptions{sessionTTL: -1})
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 15, cfg.Session.TTLMinutes)
}

func TestApplyFlagOverrides_ExplicitZeroTTL(t *testing.T) {
	cfg := &viewer.Config{}
	cfg.Session.TTLMinutes = 60

	applyFlagOverrides(cfg, &serverOptions{sessionTTL: 0})
	assert.Equal(t, 0, cfg.Session.TTLMinutes)
}
