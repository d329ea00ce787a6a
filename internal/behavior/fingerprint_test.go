package behavior_test

import (
	"testing"

	"github.com/agenttrust/station/internal/behavior"
)

func TestFingerprint_KeyOrderIndependent(t *testing.T) {
	a := behavior.Fingerprint("search", map[string]interface{}{"q": "hi", "limit": float64(5)})
	b := behavior.Fingerprint("search", map[string]interface{}{"limit": float64(5), "q": "hi"})
	if a != b {
		t.Errorf("Fingerprint() differs by key order: %s != %s", a, b)
	}
}

func TestFingerprint_DifferentValuesDiffer(t *testing.T) {
	a := behavior.Fingerprint("search", map[string]interface{}{"q": "hi"})
	b := behavior.Fingerprint("search", map[string]interface{}{"q": "bye"})
	if a == b {
		t.Error("Fingerprint() collided for distinct params")
	}
}

func TestFingerprint_DifferentActionNamesDiffer(t *testing.T) {
	a := behavior.Fingerprint("search", map[string]interface{}{"q": "hi"})
	b := behavior.Fingerprint("checkout", map[string]interface{}{"q": "hi"})
	if a == b {
		t.Error("Fingerprint() collided for distinct action names")
	}
}
