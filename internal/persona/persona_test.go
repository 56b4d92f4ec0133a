package persona

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cexll/agentsdk-go/pkg/runtime/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour int) time.Time {
	return time.Date(2026, 3, 14, hour, 30, 0, 0, time.Local)
}

func TestAt(t *testing.T) {
	tests := []struct {
		hour      int
		mode      string
		intensity float64
	}{
		{6, ModeDay, 1},
		{12, ModeDay, 1},
		{21, ModeDay, 1},
		{22, ModeNight, 0.6875},
		{23, ModeNight, 0.75},
		{0, ModeNight, 0.8125},
		{1, ModeNight, 0.875},
		{2, ModeNight, 0.9375},
		{3, ModeNight, 1},
		{4, ModeNight, 0.9375},
		{5, ModeNight, 0.875},
	}
	for _, tt := range tests {
		s := At(at(tt.hour))
		assert.Equal(t, tt.mode, s.Mode, "hour %d", tt.hour)
		assert.InDelta(t, tt.intensity, s.Intensity, 1e-9, "hour %d", tt.hour)
	}
}

func TestState_PeakAndCheckIn(t *testing.T) {
	tests := []struct {
		hour    int
		peak    bool
		checkIn bool
		mood    string
	}{
		{10, false, true, "day: warm and upbeat"},
		{22, false, false, "night: winding down"},
		{23, false, false, "night: direct, low on small talk"},
		{0, true, false, "night: direct, low on small talk"},
		{2, true, true, "night peak: blunt and reflective"},
		{3, true, true, "night peak: blunt and reflective"},
	}
	for _, tt := range tests {
		s := At(at(tt.hour))
		assert.Equal(t, tt.peak, s.Peak(), "hour %d", tt.hour)
		assert.Equal(t, tt.checkIn, s.ShouldCheckIn(), "hour %d", tt.hour)
		assert.Equal(t, tt.mood, s.Mood(), "hour %d", tt.hour)
	}
}

func TestGreeting(t *testing.T) {
	assert.Equal(t, "Morning! Ready to get going?", Greeting(at(8)))
	assert.Equal(t, "Hey! What are we working on?", Greeting(at(14)))
	assert.Equal(t, "Evening! How did the day go?", Greeting(at(19)))
	assert.Contains(t, Greeting(at(23)), "late")
	assert.Contains(t, Greeting(at(3)), "Still up?")
}

func TestLibrary_Active(t *testing.T) {
	lib, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"persona-day"}, lib.Active(at(12)))
	assert.Equal(t, []string{"persona-night"}, lib.Active(at(23)))
	assert.Equal(t, []string{"persona-night", "persona-night-peak"}, lib.Active(at(3)))

	prompt := lib.Prompt(at(3))
	assert.Contains(t, prompt, "## Voice: late night")
	assert.Contains(t, prompt, "## Voice: small hours")
	assert.NotContains(t, prompt, "## Voice: daytime")
}

func writePack(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_OverlaysDirectory(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "day.md", "---\nname: persona-day\nmode: day\ndescription: mine\n---\nCustom day voice.\n")
	writePack(t, dir, "dawn.md", "---\nmode: night\nmin_intensity: 0.9\n---\nDawn patrol.\n")
	writePack(t, dir, "broken.md", "no frontmatter here")
	writePack(t, dir, "badmode.md", "---\nmode: evening\n---\nx\n")
	writePack(t, dir, "badname.md", "---\nname: Not Valid\nmode: day\n---\nx\n")
	writePack(t, dir, "notes.txt", "---\nmode: day\n---\nignored\n")

	lib, err := Load(dir, nil)
	require.NoError(t, err)

	var names []string
	for _, p := range lib.Packs() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"persona-day", "persona-night", "persona-night-peak", "dawn"}, names)

	day := lib.Packs()[0]
	assert.Equal(t, "Custom day voice.", day.Body)
	assert.Equal(t, "mine", day.Description)
	assert.Equal(t, filepath.Join(dir, "day.md"), day.Source)

	assert.Equal(t, "Custom day voice.", lib.Prompt(at(12)))
	assert.Contains(t, lib.Active(at(3)), "dawn")
	assert.NotContains(t, lib.Active(at(1)), "dawn")
}

func TestLoad_MissingDir(t *testing.T) {
	lib, err := Load(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	assert.Len(t, lib.Packs(), len(Defaults()))
}

func TestRegistrations(t *testing.T) {
	lib, err := Load("", nil)
	require.NoError(t, err)

	regs := lib.Registrations()
	require.Len(t, regs, 3)
	for _, reg := range regs {
		require.NoError(t, reg.Definition.Validate())
		assert.True(t, reg.Definition.DisableAutoActivation)
	}

	res, err := regs[1].Handler.Execute(context.Background(), skills.ActivationContext{})
	require.NoError(t, err)
	assert.Equal(t, "persona-night", res.Skill)
	assert.Contains(t, res.Output, "get straight to the point")
}
