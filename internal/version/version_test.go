package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrent(t *testing.T) {
	orig := [3]string{Version, GitSHA, BuildTime}
	t.Cleanup(func() { Version, GitSHA, BuildTime = orig[0], orig[1], orig[2] })

	Version, GitSHA, BuildTime = "1.2.3", "abc1234", "2025-01-02T03:04:05Z"
	info := Current()
	assert.Equal(t, "shapes 1.2.3 (abc1234, built 2025-01-02T03:04:05Z)", info.String())

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.2.3","git_sha":"abc1234","build_time":"2025-01-02T03:04:05Z"}`, string(data))
}
