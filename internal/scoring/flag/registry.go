// Package flag holds the flag verifiers and the registry that maps a challenge's
// flag_type to one of them.
package flag

import (
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Context carries who is submitting. Verifiers that do not care may ignore it.
type Context struct {
	UserID string
	TeamID *string
}

// Env is event-wide configuration a verifier may need.
type Env struct {
	FlagPrefix string
}

// Verifier decides whether a submitted flag is correct for one challenge.
// Implementations are pure and safe to call outside a transaction.
type Verifier interface {
	Check(submitted string, c Context) bool
	SelfCheck() []model.ConfigIssue
}

// Factory parses a challenge's opaque flag metadata into a Verifier.
// Shape problems are kept on the verifier and reported through SelfCheck.
type Factory func(metadata json.RawMessage, env Env) Verifier

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with every built-in flag type registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(model.FlagTypePlaintext, newPlaintext)
	r.Register(model.FlagTypeHashed, newHashed)
	r.Register(model.FlagTypeRegex, newRegex)
	r.Register(model.FlagTypeLenient, newLenient)
	r.Register(model.FlagTypeMap, newMap)
	r.Register(model.FlagTypeLongText, newLongText)
	return r
}

func (r *Registry) Register(flagType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[flagType] = f
}

func (r *Registry) Has(flagType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[flagType]
	return ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Verifier builds the verifier for a challenge. An unknown flag type is a
// configuration error on the challenge.
func (r *Registry) Verifier(ch *model.Challenge, env Env) (Verifier, error) {
	r.mu.RLock()
	f, ok := r.factories[ch.FlagType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("challenge %d has unknown flag type %q: %w", ch.ID, ch.FlagType, common.ErrConfigurationInvalid)
	}
	return f(ch.FlagMetadata, env), nil
}

func decodeMetadata(metadata json.RawMessage, target interface{}) *model.ConfigIssue {
	if len(metadata) == 0 {
		return &model.ConfigIssue{Field: "flag_metadata", Message: "metadata is missing"}
	}
	if err := json.Unmarshal(metadata, target); err != nil {
		return &model.ConfigIssue{Field: "flag_metadata", Message: "metadata is malformed: " + err.Error()}
	}
	return nil
}

func issues(parseIssue *model.ConfigIssue, more ...model.ConfigIssue) []model.ConfigIssue {
	var out []model.ConfigIssue
	if parseIssue != nil {
		out = append(out, *parseIssue)
	}
	return append(out, more...)
}
