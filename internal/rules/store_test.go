package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/reactor/internal/model"
)

const sampleYAML = `
rules:
  - id: task-check
    emoji: "✅"
    kind: create_task
    template: "Task: {{content}}"
    priority: 10
  - id: calendar-clock
    emoji: "⏰"
    kind: create_calendar_event
    template: "{{content}}"
    priority: 5
  - id: task-check-group
    emoji: "✅"
    scope:
      chatJid: "123-456@g.us"
    kind: create_task
    template: "Group task: {{content}}"
    priority: 20
`

func writeRules(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestNewStore_LoadsAndSorts(t *testing.T) {
	s, err := NewStore(writeRules(t, sampleYAML))
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "task-check-group", snap[0].ID, "highest priority first")
	assert.Equal(t, "task-check", snap[1].ID)
	assert.Equal(t, "calendar-clock", snap[2].ID)
}

func TestReload_KeepsOldSnapshotOnError(t *testing.T) {
	path := writeRules(t, sampleYAML)
	s, err := NewStore(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rules: [{id: broken"), 0o600))
	assert.Error(t, s.Reload())
	assert.Equal(t, 3, s.Len(), "previous snapshot must survive a bad reload")
}

func TestReload_SnapshotIsolation(t *testing.T) {
	path := writeRules(t, sampleYAML)
	s, err := NewStore(path)
	require.NoError(t, err)

	// An evaluation in flight holds this snapshot.
	snap := s.Snapshot()
	require.Len(t, snap, 3)

	next := "rules:\n  - {id: only-note, emoji: \"📝\", kind: create_note, template: t}\n"
	require.NoError(t, os.WriteFile(path, []byte(next), 0o600))
	require.NoError(t, s.Reload())

	// The held snapshot is untouched; a fresh one sees the new set.
	assert.Len(t, snap, 3)
	assert.Equal(t, "task-check-group", snap[0].ID)
	fresh := s.Snapshot()
	require.Len(t, fresh, 1)
	assert.Equal(t, "only-note", fresh[0].ID)
}

func TestNewStore_RejectsInvalidRules(t *testing.T) {
	cases := map[string]string{
		"missing id":    "rules:\n  - emoji: \"✅\"\n    kind: create_task\n    template: t\n",
		"duplicate id":  "rules:\n  - {id: a, emoji: \"✅\", kind: create_task, template: t}\n  - {id: a, emoji: \"📝\", kind: create_note, template: t}\n",
		"unknown kind":  "rules:\n  - {id: a, emoji: \"✅\", kind: explode, template: t}\n",
		"no template":   "rules:\n  - {id: a, emoji: \"✅\", kind: create_task}\n",
		"missing emoji": "rules:\n  - {id: a, kind: create_task, template: t}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewStore(writeRules(t, doc))
			assert.Error(t, err)
		})
	}
}

func TestMatch_PriorityAndScope(t *testing.T) {
	s, err := NewStore(writeRules(t, sampleYAML))
	require.NoError(t, err)

	groupEv := model.ReactionEvent{
		Emoji:      "✅",
		ChatJID:    "123-456@g.us",
		ReactorJID: "5215579188699@s.whatsapp.net",
	}
	r, ok := Match(s.Snapshot(), groupEv)
	require.True(t, ok)
	assert.Equal(t, "task-check-group", r.ID, "scoped high-priority rule wins in its chat")

	directEv := groupEv
	directEv.ChatJID = "15551234567@s.whatsapp.net"
	r, ok = Match(s.Snapshot(), directEv)
	require.True(t, ok)
	assert.Equal(t, "task-check", r.ID, "scoped rule must not leak outside its chat")
}

func TestLoadFileConfig_Sections(t *testing.T) {
	doc := sampleYAML + `
identity:
  countryCode: "54"
  areaCodes: ["11"]
temporal:
  eveningKeywords: ["asado"]
`
	fc, err := LoadFileConfig(writeRules(t, doc))
	require.NoError(t, err)
	assert.Equal(t, "54", fc.Identity.CountryCode)
	assert.Equal(t, []string{"11"}, fc.Identity.AreaCodes)
	assert.Equal(t, []string{"asado"}, fc.Temporal.EveningKeywords)
}

func TestLoadFileConfig_MissingSectionsAreZero(t *testing.T) {
	fc, err := LoadFileConfig(writeRules(t, sampleYAML))
	require.NoError(t, err)
	assert.Empty(t, fc.Identity.CountryCode)
	assert.Nil(t, fc.Temporal.EveningKeywords)
}

func TestMatch_NoRule(t *testing.T) {
	s := NewStaticStore([]model.Rule{{ID: "a", Emoji: "✅", Kind: model.ActionCreateTask, Template: "t"}})
	_, ok := Match(s.Snapshot(), model.ReactionEvent{Emoji: "🎉"})
	assert.False(t, ok)
}
