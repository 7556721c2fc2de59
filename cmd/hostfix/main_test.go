package main

import (
	"testing"

	"github.com/cuemby/hostfix/pkg/repair"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		action   repair.Action
		detailed bool
		want     int
	}{
		{repair.ActionSkip, false, 0},
		{repair.ActionFixed, false, 0},
		{repair.ActionFail, false, 1},
		{repair.ActionSkip, true, 0},
		{repair.ActionFixed, true, 2},
		{repair.ActionFail, true, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.action, tt.detailed))
		})
	}
}

func TestParseIP(t *testing.T) {
	ip, err := parseIP("140.82.113.3")
	assert.NoError(t, err)
	assert.Equal(t, "140.82.113.3", ip)

	for _, bad := range []string{"", "github.com", "::1", "300.1.1.1"} {
		_, err := parseIP(bad)
		assert.Error(t, err, bad)
	}
}

func TestTailAndFormatMapping(t *testing.T) {
	assert.Equal(t, []int{3, 4}, tail([]int{1, 2, 3, 4}, 2))
	assert.Equal(t, []int{1, 2}, tail([]int{1, 2}, 5))
	assert.Equal(t, []int{1, 2}, tail([]int{1, 2}, 0))

	assert.Equal(t, "api.github.com=2.2.2.2 github.com=1.1.1.1",
		formatMapping(map[string]string{"github.com": "1.1.1.1", "api.github.com": "2.2.2.2"}))
}
