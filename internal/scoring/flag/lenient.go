package flag

import (
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	PassAccents    = "accents"
	PassCase       = "case"
	PassWhitespace = "whitespace"
	PassFormat     = "format"
)

var knownPasses = map[string]bool{
	PassAccents:    true,
	PassCase:       true,
	PassWhitespace: true,
	PassFormat:     true,
}

type lenientConfig struct {
	Flag          string   `json:"flag"`
	ExcludePasses []string `json:"exclude_passes"`
}

type lenientVerifier struct {
	cfg        lenientConfig
	parseIssue *model.ConfigIssue
	prefix     string
	excluded   map[string]bool
}

func newLenient(metadata json.RawMessage, env Env) Verifier {
	v := &lenientVerifier{prefix: env.FlagPrefix, excluded: make(map[string]bool)}
	v.parseIssue = decodeMetadata(metadata, &v.cfg)
	for _, p := range v.cfg.ExcludePasses {
		v.excluded[p] = true
	}
	return v
}

func (v *lenientVerifier) enabled(pass string) bool {
	return !v.excluded[pass]
}

// normalize runs the enabled passes in a fixed order: accents, case, whitespace, format.
func (v *lenientVerifier) normalize(s string) string {
	if v.enabled(PassAccents) {
		s = stripAccents(s)
	}
	if v.enabled(PassCase) {
		s = cases.Fold().String(s)
	}
	if v.enabled(PassWhitespace) {
		s = strings.TrimSpace(s)
	}
	if v.enabled(PassFormat) && v.prefix != "" {
		prefix := v.prefix
		if v.enabled(PassCase) {
			prefix = cases.Fold().String(prefix)
		}
		if !strings.Contains(s, prefix+"{") {
			s = prefix + "{" + s + "}"
		}
	}
	return s
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func (v *lenientVerifier) Check(submitted string, _ Context) bool {
	if v.cfg.Flag == "" {
		return false
	}
	return v.normalize(submitted) == v.normalize(v.cfg.Flag)
}

func (v *lenientVerifier) SelfCheck() []model.ConfigIssue {
	var found []model.ConfigIssue
	if v.cfg.Flag == "" {
		found = append(found, model.ConfigIssue{Field: "flag", Message: "flag is missing"})
	}
	for _, p := range v.cfg.ExcludePasses {
		if !knownPasses[p] {
			found = append(found, model.ConfigIssue{Field: "exclude_passes", Message: "unknown pass " + p})
		}
	}
	return issues(v.parseIssue, found...)
}
