package metrics

import (
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	// Verify our custom metrics exist by incrementing one and gathering again.
	m.RequestsTotal.WithLabelValues("GET", "200", "libraries.mirror.hkmc.online").Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "mirror_proxy_http_requests_total" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected mirror_proxy_http_requests_total in gathered metrics")
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"PROPFIND", "other"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizeHost(t *testing.T) {
	m := New("libraries.mirror.hkmc.online", "launcher.mirror.hkmc.online")

	tests := []struct {
		host string
		want string
	}{
		{"libraries.mirror.hkmc.online", "libraries.mirror.hkmc.online"},
		{"launcher.mirror.hkmc.online", "launcher.mirror.hkmc.online"},
		{"LIBRARIES.mirror.hkmc.online", "other"},
		{"attacker-chosen.example", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := m.NormalizeHost(tt.host); got != tt.want {
				t.Errorf("NormalizeHost(%q) = %q, want %q", tt.host, got, tt.want)
			}
		})
	}
}
