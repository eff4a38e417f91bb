package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	oldV, oldSHA, oldT := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldT })

	Version, GitSHA, BuildTime = "v1.2.0", "abc1234", "2026-01-02T03:04:05Z"
	assert.Equal(t, "scanlink v1.2.0 (abc1234, built 2026-01-02T03:04:05Z)", String())
}
