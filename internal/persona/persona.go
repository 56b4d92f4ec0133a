// Package persona picks the assistant's voice by time of day. Packs are
// markdown files with YAML frontmatter; the active ones are forced into each
// agent request as skills.
package persona

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/runtime/skills"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	ModeDay   = "day"
	ModeNight = "night"

	// Night runs from nightStart to dayStart and peaks at peakHour.
	nightStart = 22
	dayStart   = 6
	peakHour   = 3

	// PeakIntensity is where the night persona shifts to its late register.
	PeakIntensity = 0.8
	// checkInIntensity is the only night intensity that still starts chats.
	checkInIntensity = 0.9
)

var errBadFrontmatter = errors.New("invalid persona frontmatter")

// State is the persona in effect at some instant.
type State struct {
	Mode      string  `json:"mode"`
	Intensity float64 `json:"intensity"`
}

// At returns the persona state for now's local hour.
func At(now time.Time) State {
	h := now.Hour()
	if h >= nightStart || h < dayStart {
		return State{Mode: ModeNight, Intensity: NightIntensity(h)}
	}
	return State{Mode: ModeDay, Intensity: 1}
}

// NightIntensity is 1 at the peak hour and falls by 0.0625 per hour away
// from it, never below 0.5.
func NightIntensity(hour int) float64 {
	if hour < dayStart {
		hour += 24
	}
	distance := math.Abs(float64(hour - (peakHour + 24)))
	return math.Max(0.5, math.Min(1, 1-distance/8*0.5))
}

// Peak reports whether s is in the late-night register.
func (s State) Peak() bool { return s.Mode == ModeNight && s.Intensity > PeakIntensity }

// ShouldCheckIn reports whether proactive messages fit the current mood.
// Daytime always does; at night only the deepest hours do.
func (s State) ShouldCheckIn() bool {
	return s.Mode == ModeDay || s.Intensity > checkInIntensity
}

// Greeting is a short opener for the current persona.
func Greeting(now time.Time) string {
	s := At(now)
	if s.Mode == ModeNight {
		if s.Peak() {
			return "Still up? Good. What's actually on your mind?"
		}
		return "It's late. Let's keep it short. What do you need?"
	}
	switch h := now.Hour(); {
	case h < 10:
		return "Morning! Ready to get going?"
	case h < 17:
		return "Hey! What are we working on?"
	default:
		return "Evening! How did the day go?"
	}
}

// Mood describes s for status output.
func (s State) Mood() string {
	switch {
	case s.Mode == ModeDay:
		return "day: warm and upbeat"
	case s.Intensity > checkInIntensity:
		return "night peak: blunt and reflective"
	case s.Intensity > 0.7:
		return "night: direct, low on small talk"
	default:
		return "night: winding down"
	}
}

// Pack is one persona prompt. It applies in Mode when the intensity is at
// least MinIntensity.
type Pack struct {
	Name         string  `yaml:"name"`
	Mode         string  `yaml:"mode"`
	MinIntensity float64 `yaml:"min_intensity"`
	Description  string  `yaml:"description"`
	Body         string  `yaml:"-"`
	Source       string  `yaml:"-"`
}

func (p Pack) appliesTo(s State) bool {
	return p.Mode == s.Mode && s.Intensity >= p.MinIntensity
}

// Library is the set of packs the agent can wear.
type Library struct {
	packs []Pack
}

// Load returns the built-in packs overlaid with *.md packs from dir. A pack
// whose name matches a built-in replaces it. A missing dir is not an error;
// files with broken frontmatter are skipped with a warning.
func Load(dir string, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lib := &Library{packs: Defaults()}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return lib, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return lib, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persona dir %q: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		pack, err := parsePack(path)
		if errors.Is(err, errBadFrontmatter) {
			logger.Warn("skip persona pack", zap.String("path", path), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		lib.put(pack)
	}
	return lib, nil
}

func (l *Library) put(p Pack) {
	if i := slices.IndexFunc(l.packs, func(q Pack) bool { return q.Name == p.Name }); i >= 0 {
		l.packs[i] = p
		return
	}
	l.packs = append(l.packs, p)
}

// Packs returns the library contents in application order.
func (l *Library) Packs() []Pack { return slices.Clone(l.packs) }

// Active names the packs that apply at now.
func (l *Library) Active(now time.Time) []string {
	s := At(now)
	var names []string
	for _, p := range l.packs {
		if p.appliesTo(s) {
			names = append(names, p.Name)
		}
	}
	return names
}

// Prompt joins the bodies of the packs active at now.
func (l *Library) Prompt(now time.Time) string {
	s := At(now)
	var parts []string
	for _, p := range l.packs {
		if p.appliesTo(s) {
			parts = append(parts, p.Body)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Registrations exposes every pack as a skill that only runs when forced.
func (l *Library) Registrations() []api.SkillRegistration {
	regs := make([]api.SkillRegistration, 0, len(l.packs))
	for _, p := range l.packs {
		body := p.Body
		name := p.Name
		regs = append(regs, api.SkillRegistration{
			Definition: skills.Definition{
				Name:                  name,
				Description:           p.Description,
				DisableAutoActivation: true,
				Metadata:              map[string]string{"mode": p.Mode},
			},
			Handler: skills.HandlerFunc(func(context.Context, skills.ActivationContext) (skills.Result, error) {
				return skills.Result{Skill: name, Output: body}, nil
			}),
		})
	}
	return regs
}

func parsePack(path string) (Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pack{}, fmt.Errorf("read persona %q: %w", path, err)
	}
	front, body, ok := splitFrontmatter(string(data))
	if !ok {
		return Pack{}, fmt.Errorf("%w: missing --- block", errBadFrontmatter)
	}
	var p Pack
	if err := yaml.Unmarshal([]byte(front), &p); err != nil {
		return Pack{}, fmt.Errorf("%w: %v", errBadFrontmatter, err)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	if p.Mode != ModeDay && p.Mode != ModeNight {
		return Pack{}, fmt.Errorf("%w: mode must be %q or %q", errBadFrontmatter, ModeDay, ModeNight)
	}
	if err := (skills.Definition{Name: p.Name}).Validate(); err != nil {
		return Pack{}, fmt.Errorf("%w: %v", errBadFrontmatter, err)
	}
	p.Body = strings.TrimSpace(body)
	p.Source = path
	return p, nil
}

func splitFrontmatter(text string) (front, body string, ok bool) {
	text = strings.TrimPrefix(text, "\uFEFF")
	rest, found := strings.CutPrefix(text, "---\n")
	if !found {
		return "", "", false
	}
	front, body, found = strings.Cut(rest, "\n---")
	if !found {
		return "", "", false
	}
	body = strings.TrimPrefix(strings.TrimPrefix(body, "\r"), "\n")
	return front, body, true
}
