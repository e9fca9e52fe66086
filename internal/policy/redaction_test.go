package policy

import (
	"strings"
	"testing"
)

func TestRedactPIIEmail(t *testing.T) {
	out, changed := RedactPII("write to tony@stark.io please")
	if !changed {
		t.Fatalf("email not detected")
	}
	if !strings.Contains(out, "[REDACTED_EMAIL]") || strings.Contains(out, "stark.io") {
		t.Fatalf("email not masked: %q", out)
	}
}

func TestRedactPIICardBeforePhone(t *testing.T) {
	out, changed := RedactPII("my card is 4111 1111 1111 1111")
	if !changed {
		t.Fatalf("card not detected")
	}
	if !strings.Contains(out, "[REDACTED_CARD]") {
		t.Fatalf("card masked as something else: %q", out)
	}
	if strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("card classified as phone: %q", out)
	}
}

func TestRedactPIIPhone(t *testing.T) {
	out, changed := RedactPII("call me at +1 415 555 0147 tonight")
	if !changed {
		t.Fatalf("phone not detected")
	}
	if !strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("phone not masked: %q", out)
	}
}

func TestRedactPIIPassthrough(t *testing.T) {
	in := "open cursor and tell me the time"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("clean text was altered: %q", out)
	}
}
