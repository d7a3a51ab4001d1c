// Package rules loads the emoji-to-action rule set and matches events
// against it. Rules live in a YAML file; the loaded set is published as an
// immutable snapshot so evaluation never takes a lock.
package rules

import (
	"os"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/flowhook/reactor/internal/model"
)

// ruleFile is the on-disk document shape.
type ruleFile struct {
	Rules []model.Rule `yaml:"rules"`
}

// Store holds the current rule snapshot. Reload swaps the snapshot
// atomically; readers of a snapshot in flight keep seeing the old set.
type Store struct {
	path     string
	snapshot atomic.Pointer[[]model.Rule]
}

// NewStore loads the rule file at path. The returned store is ready for
// concurrent Snapshot/Reload use.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore wraps a fixed rule slice, used by tests and the CLI.
func NewStaticStore(rs []model.Rule) *Store {
	s := &Store{}
	s.publish(rs)
	return s
}

// Reload re-reads the rule file and swaps the snapshot. On any error the
// previous snapshot stays in effect.
func (s *Store) Reload() error {
	if s.path == "" {
		return errors.New("rules: store has no backing file")
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrap(err, "rules: read file")
	}
	var doc ruleFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(err, "rules: parse yaml")
	}
	if err := validate(doc.Rules); err != nil {
		return err
	}
	s.publish(doc.Rules)
	return nil
}

// Snapshot returns the current rule set. The slice must not be mutated.
func (s *Store) Snapshot() []model.Rule {
	p := s.snapshot.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Len reports the number of rules in the current snapshot.
func (s *Store) Len() int { return len(s.Snapshot()) }

func (s *Store) publish(rs []model.Rule) {
	// Highest priority first; stable so file order breaks ties.
	sorted := make([]model.Rule, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	s.snapshot.Store(&sorted)
}

func validate(rs []model.Rule) error {
	seen := make(map[string]struct{}, len(rs))
	for i, r := range rs {
		if r.ID == "" {
			return errors.Errorf("rules: rule %d has no id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return errors.Errorf("rules: duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Emoji == "" {
			return errors.Errorf("rules: rule %q has no emoji", r.ID)
		}
		if !r.Kind.Valid() {
			return errors.Errorf("rules: rule %q has unknown kind %q", r.ID, r.Kind)
		}
		if r.Template == "" {
			return errors.Errorf("rules: rule %q has no template", r.ID)
		}
	}
	return nil
}

// Match returns the first rule in priority order whose emoji and scope admit
// the event, or false when no rule applies. No rule matching is a normal,
// silent outcome.
func Match(rs []model.Rule, ev model.ReactionEvent) (model.Rule, bool) {
	for _, r := range rs {
		if r.Emoji != ev.Emoji {
			continue
		}
		if !r.Scope.Accepts(ev.ChatJID, ev.ReactorJID) {
			continue
		}
		return r, true
	}
	return model.Rule{}, false
}
