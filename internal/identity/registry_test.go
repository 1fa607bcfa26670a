package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRegistryFieldFallbacks(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sessions.json", `{
		"agent:main:main": {"sessionId": "id-1", "lastChannel": "telegram", "lastTo": "+100", "displayName": "Main"},
		"agent:main:slack:c1": {"sessionId": "id-2", "channel": "slack", "lastRecipient": "#ops", "origin": {"label": "ops room"}},
		"broken": "not an object"
	}`)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	require.Len(t, reg, 2)

	main, ok := reg.Lookup("agent:main:main")
	require.True(t, ok)
	assert.Equal(t, RegistryEntry{SessionID: "id-1", Channel: "telegram", LastRecipient: "+100", Label: "Main"}, main)

	slack := reg["agent:main:slack:c1"]
	assert.Equal(t, "slack", slack.Channel)
	assert.Equal(t, "#ops", slack.LastRecipient)
	assert.Equal(t, "ops room", slack.Label)
}

func TestLoadMeta(t *testing.T) {
	path := writeFile(t, t.TempDir(), "meta.json", `{"id-1": {"label": " Deploy chat ", "channel": "discord", "lastTo": "u1"}}`)

	meta, err := LoadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, MetaEntry{Label: "Deploy chat", Channel: "discord", LastRecipient: "u1"}, meta["id-1"])
}

func TestLoadMetaErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadMeta(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = LoadMeta(writeFile(t, dir, "bad.json", `{not json`))
	assert.Error(t, err)
}

func TestLoadCronNamesBothShapes(t *testing.T) {
	dir := t.TempDir()

	wrapped, err := LoadCronNames(writeFile(t, dir, "a.json", `{"jobs": [{"id": "j1", "name": "Nightly backup"}, {"id": "j2"}]}`))
	require.NoError(t, err)
	assert.Equal(t, CronNames{"j1": "Nightly backup"}, wrapped)

	bare, err := LoadCronNames(writeFile(t, dir, "b.json", ` [{"id": "j3", "name": "Digest"}]`))
	require.NoError(t, err)
	assert.Equal(t, CronNames{"j3": "Digest"}, bare)
}

func TestLoadDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", "Name: Clawd\nName: Other\n", "Clawd"},
		{"markdown bullet", "# Identity\n\n- **Name:** Molty\n- Vibe: calm\n", "Molty"},
		{"bold label", "* **Name**: Jarvis\n", "Jarvis"},
		{"empty value skipped", "Name:\nName: Second\n", "Second"},
		{"not a name field", "Username: root\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "IDENTITY.md", tt.content)
			got, err := LoadDisplayName(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionKeyHelpers(t *testing.T) {
	assert.Equal(t, "agent:main:main", DefaultSessionKey(""))
	assert.Equal(t, "agent:ops:main", DefaultSessionKey("ops"))

	id, ok := CronJobID("agent:main:cron:job-7:run:1")
	require.True(t, ok)
	assert.Equal(t, "job-7", id)

	id, ok = CronJobID("agent:main:cron:job-8")
	require.True(t, ok)
	assert.Equal(t, "job-8", id)

	_, ok = CronJobID("agent:main:cron:")
	assert.False(t, ok)
	_, ok = CronJobID("agent:main:main")
	assert.False(t, ok)

	assert.True(t, IsCron("agent:main:cron:x"))
	assert.Equal(t, "ops", AgentIDFromKey("agent:ops:telegram:1"))
	assert.Equal(t, "", AgentIDFromKey("session-1"))
}
