package models

import "testing"

func TestCommandIDString(t *testing.T) {
	tests := []struct {
		id   CommandID
		want string
	}{
		{CommandLock, "lock"},
		{CommandStartEngine, "start_engine"},
		{CommandCheck, "check"},
		{CommandID(777), "777"},
	}
	for _, tt := range tests {
		if got := tt.id.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", int(tt.id), got, tt.want)
		}
	}
}

func TestParseCommandID(t *testing.T) {
	tests := []struct {
		in     string
		want   CommandID
		wantOK bool
	}{
		{"lock", CommandLock, true},
		{"stop_engine", CommandStopEngine, true},
		{"255", CommandCheck, true},
		{"777", CommandID(777), true}, // numeric ids are authoritative
		{"fly_to_the_moon", 0, false},
		{"-4", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseCommandID(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseCommandID(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFeaturesFromMap(t *testing.T) {
	f := FeaturesFromMap(map[string]interface{}{
		"autostart": 1,
		"tracking":  true,
		"beep":      0, // presence grants the capability
	})
	if !f.Has(FeatureAutoStart | FeatureTracking | FeatureBeeper) {
		t.Fatalf("features = %b", f)
	}
	if f.Has(FeatureNav) {
		t.Fatal("absent key must not grant capability")
	}
}

func TestDirection(t *testing.T) {
	tests := []struct {
		deg  float64
		want string
	}{
		{0, "N"},
		{90, "E"},
		{180, "S"},
		{270, "W"},
		{359, "N"},
		{22.5, "NNE"},
	}
	for _, tt := range tests {
		s := CurrentState{Rotation: &tt.deg}
		if got := s.Direction(); got != tt.want {
			t.Errorf("Direction(%v) = %q, want %q", tt.deg, got, tt.want)
		}
	}
}
