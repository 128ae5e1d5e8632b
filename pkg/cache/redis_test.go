package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySkipsBlankParts(t *testing.T) {
	assert.Equal(t, "siga:course:c1:summary", Key("siga", "course", " c1 ", "", "summary"))
	assert.Equal(t, "course:c1", Key("", "course", "c1"))
	assert.Empty(t, Key("", " "))
}
