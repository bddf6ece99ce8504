package flag

import (
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"strings"
)

type longTextConfig struct {
	Flag string `json:"flag"`
}

type longTextVerifier struct {
	cfg        longTextConfig
	parseIssue *model.ConfigIssue
}

func newLongText(metadata json.RawMessage, _ Env) Verifier {
	v := &longTextVerifier{}
	v.parseIssue = decodeMetadata(metadata, &v.cfg)
	return v
}

// lettersOnly lowercases s and keeps ASCII letters only.
func lettersOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (v *longTextVerifier) Check(submitted string, _ Context) bool {
	want := lettersOnly(v.cfg.Flag)
	if want == "" {
		return false
	}
	return lettersOnly(submitted) == want
}

func (v *longTextVerifier) SelfCheck() []model.ConfigIssue {
	if v.cfg.Flag == "" {
		return issues(v.parseIssue, model.ConfigIssue{Field: "flag", Message: "flag is missing"})
	}
	if lettersOnly(v.cfg.Flag) == "" {
		return issues(v.parseIssue, model.ConfigIssue{Field: "flag", Message: "flag has no letters to compare"})
	}
	return issues(v.parseIssue)
}
