package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNames(t *testing.T) {
	out := parseNames([]byte("app/main.py\napp/util.py\n\napp/main.py\n"))
	assert.Equal(t, []string{"app/main.py", "app/util.py"}, out,
		"sorted and deduplicated")
}

func TestParseNames_Empty(t *testing.T) {
	assert.Empty(t, parseNames(nil))
	assert.Empty(t, parseNames([]byte("\n\n")))
}
