package cache

import (
	"ctf_scoring/internal/domain/model"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "ctf:challenges:team:t1", Key(model.TeamOwner("t1")))
	assert.Equal(t, "ctf:challenges:user:u1", Key(model.UserOwner("u1")))
}
