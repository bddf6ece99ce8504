package flag

import (
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"regexp"
)

type regexConfig struct {
	Flag string `json:"flag"`
}

type regexVerifier struct {
	cfg        regexConfig
	parseIssue *model.ConfigIssue
	re         *regexp.Regexp
	compileErr error
}

func newRegex(metadata json.RawMessage, _ Env) Verifier {
	v := &regexVerifier{}
	v.parseIssue = decodeMetadata(metadata, &v.cfg)
	if v.cfg.Flag != "" {
		// Anchored so the whole submission has to match, not a substring of it.
		v.re, v.compileErr = regexp.Compile(`^(?:` + v.cfg.Flag + `)$`)
	}
	return v
}

func (v *regexVerifier) Check(submitted string, _ Context) bool {
	if v.re == nil {
		return false
	}
	return v.re.MatchString(submitted)
}

func (v *regexVerifier) SelfCheck() []model.ConfigIssue {
	var found []model.ConfigIssue
	if v.cfg.Flag == "" {
		found = append(found, model.ConfigIssue{Field: "flag", Message: "pattern is empty"})
	} else if v.compileErr != nil {
		found = append(found, model.ConfigIssue{Field: "flag", Message: "pattern does not compile: " + v.compileErr.Error()})
	}
	return issues(v.parseIssue, found...)
}
