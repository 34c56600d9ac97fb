package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteBranchURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
		ok   bool
	}{
		{"/" + repo + "/tree/main", "/" + repo + "/tree/feature", true},
		{"/" + repo + "/tree/main/src", "/" + repo + "/tree/feature/src", true},
		{"/" + repo + "/blob/main/src/Main.java", "/" + repo + "/blob/feature/src/Main.java", true},
		{"https://host/" + repo + "/blob/main/a.md", "https://host/" + repo + "/blob/feature/a.md", true},
		{"/" + repo + "/blob/other/a.md", "/" + repo + "/blob/other/a.md", false},
		{"/someone/else/tree/main", "/someone/else/tree/main", false},
	}
	for _, tc := range cases {
		got, ok := RewriteBranchURL(tc.url, repo, "feature")
		assert.Equal(t, tc.want, got, tc.url)
		assert.Equal(t, tc.ok, ok, tc.url)
	}
}

func TestOnMainBranch(t *testing.T) {
	assert.True(t, onMainBranch("/"+repo+"/tree/main", repo))
	assert.True(t, onMainBranch("/"+repo+"/blob/main/x", repo))
	assert.False(t, onMainBranch("/"+repo+"/blob/answer-1/x", repo))
}
