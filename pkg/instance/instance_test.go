package instance

import "testing"

func TestGetIDPrefersDyno(t *testing.T) {
	t.Setenv("DYNO", "web.2")
	t.Setenv("WORKER_ID", "worker-7")
	if got := GetID(); got != "web.2" {
		t.Fatalf("expected dyno name, got %q", got)
	}
}

func TestGetIDFallsBack(t *testing.T) {
	t.Setenv("DYNO", "")
	t.Setenv("WORKER_ID", "worker-7")
	if got := GetID(); got != "worker-7" {
		t.Fatalf("expected worker id, got %q", got)
	}
	t.Setenv("WORKER_ID", "")
	if got := GetID(); got != "local" {
		t.Fatalf("expected local, got %q", got)
	}
}
