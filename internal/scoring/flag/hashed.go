package flag

import (
	"crypto/sha256"
	"crypto/subtle"
	"ctf_scoring/internal/domain/model"
	"encoding/hex"
	"encoding/json"
	"strings"
)

type hashedConfig struct {
	Flag string `json:"flag"` // sha256 hex digest
}

type hashedVerifier struct {
	cfg        hashedConfig
	parseIssue *model.ConfigIssue
}

func newHashed(metadata json.RawMessage, _ Env) Verifier {
	v := &hashedVerifier{}
	v.parseIssue = decodeMetadata(metadata, &v.cfg)
	return v
}

// HashFlag returns the digest stored for a hashed flag.
func HashFlag(flag string) string {
	sum := sha256.Sum256([]byte(flag))
	return hex.EncodeToString(sum[:])
}

func (v *hashedVerifier) Check(submitted string, _ Context) bool {
	want := strings.ToLower(v.cfg.Flag)
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashFlag(submitted)), []byte(want)) == 1
}

func (v *hashedVerifier) SelfCheck() []model.ConfigIssue {
	if !isSHA256Hex(v.cfg.Flag) {
		return issues(v.parseIssue, model.ConfigIssue{Field: "flag", Message: "flag is not a 64 character hex sha256 digest"})
	}
	return issues(v.parseIssue)
}

func isSHA256Hex(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
