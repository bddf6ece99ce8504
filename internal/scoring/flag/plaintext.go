package flag

import (
	"crypto/subtle"
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"strings"
)

type plaintextConfig struct {
	Flag string `json:"flag"`
}

type plaintextVerifier struct {
	cfg        plaintextConfig
	parseIssue *model.ConfigIssue
	prefix     string
}

func newPlaintext(metadata json.RawMessage, env Env) Verifier {
	v := &plaintextVerifier{prefix: env.FlagPrefix}
	v.parseIssue = decodeMetadata(metadata, &v.cfg)
	return v
}

func (v *plaintextVerifier) Check(submitted string, _ Context) bool {
	if v.cfg.Flag == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(v.cfg.Flag)) == 1
}

func (v *plaintextVerifier) SelfCheck() []model.ConfigIssue {
	var found []model.ConfigIssue
	switch {
	case v.cfg.Flag == "":
		found = append(found, model.ConfigIssue{Field: "flag", Message: "flag is empty"})
	case v.prefix != "" && !strings.HasPrefix(v.cfg.Flag, v.prefix):
		found = append(found, model.ConfigIssue{Field: "flag", Message: "flag does not start with the event prefix " + v.prefix})
	}
	return issues(v.parseIssue, found...)
}
