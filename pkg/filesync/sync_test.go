package filesync

import "testing"

func TestIsExcluded(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"node_modules", true},
		{"node_modules/react/index.js", true},
		{"src/node_modules/x", true},
		{".git", true},
		{"main.go", false},
		{"src/main.go", false},
	}
	for _, c := range cases {
		if got := isExcluded(c.path); got != c.want {
			t.Errorf("isExcluded(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestErrorRate(t *testing.T) {
	if got := errorRate(0, 0); got != 0 {
		t.Errorf("errorRate(0,0) = %v, want 0", got)
	}
	if got := errorRate(1, 10); got != 0.1 {
		t.Errorf("errorRate(1,10) = %v, want 0.1", got)
	}
	if got := errorRate(5, 10); got < partialErrorThreshold {
		t.Errorf("errorRate(5,10) = %v, expected at or above threshold %v", got, partialErrorThreshold)
	}
}

func TestWorkspacePrefix(t *testing.T) {
	e := &Engine{prefix: "workspaces"}
	if got := e.workspacePrefix("ws-1"); got != "workspaces/ws-1" {
		t.Errorf("workspacePrefix = %q", got)
	}
}

func TestUserDotfilesPrefix(t *testing.T) {
	e := &Engine{}
	if got := e.userDotfilesPrefix("u1"); got != "users/u1/dotfiles" {
		t.Errorf("userDotfilesPrefix = %q", got)
	}
	if got := e.gitConfigKey("u1"); got != "users/u1/config/git.json" {
		t.Errorf("gitConfigKey = %q", got)
	}
}
