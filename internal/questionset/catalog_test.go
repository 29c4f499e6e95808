package questionset

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onboarding = `
ref: onboarding
version: "2"
title: Onboarding
intro: A few questions about your last project.
questions:
  - id: team
    text: How big was the team?
    targets: [team_size]
    required: true
    order: 2
  - text: What did you build?
    targets: [product, stack]
    required: true
    order: 1
`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestLoadAndGet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "onboarding.yaml", onboarding)
	writeFile(t, dir, "notes.txt", "ignored")

	c := NewCatalog(dir, nil)
	require.NoError(t, c.Load())

	set, ok := c.Get("onboarding")
	require.True(t, ok)
	assert.Equal(t, "2", set.Version)
	require.Len(t, set.Questions, 2)

	ordered := set.Ordered()
	assert.Equal(t, "What did you build?", ordered[0].Text)
	assert.NotEmpty(t, ordered[0].StableID())

	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Len(t, c.List(), 1)
}

func TestParseDefaultsRefToFileName(t *testing.T) {
	c := NewCatalog("", nil)
	set, err := c.Parse([]byte("questions:\n  - text: Why?\n    targets: [reason]\n"), "why")
	require.NoError(t, err)
	assert.Equal(t, "why", set.Ref)
}

func TestParseRejectsInvalid(t *testing.T) {
	c := NewCatalog("", nil)

	tests := map[string]string{
		"no questions":   "ref: empty\n",
		"no targets":     "ref: x\nquestions:\n  - text: Why?\n",
		"empty text":     "ref: x\nquestions:\n  - text: '  '\n    targets: [a]\n",
		"duplicate ids":  "ref: x\nquestions:\n  - id: a\n    text: One\n    targets: [a]\n  - id: a\n    text: Two\n    targets: [b]\n",
		"malformed yaml": "ref: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Parse([]byte(body), "x")
			assert.Error(t, err)
		})
	}
}

func TestBadReloadKeepsPreviousSets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "onboarding.yaml", onboarding)

	c := NewCatalog(dir, nil)
	require.NoError(t, c.Load())

	writeFile(t, dir, "broken.yaml", "ref: [")
	assert.Error(t, c.Load())

	_, ok := c.Get("onboarding")
	assert.True(t, ok)
}

func TestWatchPicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalog(dir, nil)
	require.NoError(t, c.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))

	writeFile(t, dir, "onboarding.yaml", onboarding)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("onboarding")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}
