package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "krs:waitlist:sec-1", Key("waitlist", "sec-1"))
	assert.Equal(t, "krs:course", Key("course"))
}
