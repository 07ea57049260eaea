package geo

import (
	"math"
	"testing"
)

func TestDistanceSymmetry(t *testing.T) {
	points := []Location{
		{Latitude: 37.5665, Longitude: 126.9780},
		{Latitude: 37.5666, Longitude: 126.9781},
		{Latitude: -33.8688, Longitude: 151.2093},
		{Latitude: 51.5074, Longitude: -0.1278},
		{Latitude: 0, Longitude: 0},
		{Latitude: 89.9, Longitude: 179.9},
	}

	for i, a := range points {
		for j, b := range points {
			ab := Distance(a, b)
			ba := Distance(b, a)
			if math.Abs(ab-ba) > 1e-6 {
				t.Errorf("Expected symmetric distance for %d/%d, got %f vs %f", i, j, ab, ba)
			}
		}
	}
}

func TestDistanceKnownValues(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Location
		expected  float64
		tolerance float64
	}{
		{
			name:      "Same point",
			a:         Location{Latitude: 37.5665, Longitude: 126.9780},
			b:         Location{Latitude: 37.5665, Longitude: 126.9780},
			expected:  0,
			tolerance: 0.001,
		},
		{
			name:      "Neighbours in Seoul (~14m)",
			a:         Location{Latitude: 37.5665, Longitude: 126.9780},
			b:         Location{Latitude: 37.5666, Longitude: 126.9781},
			expected:  14,
			tolerance: 1.5,
		},
		{
			name:      "One degree of latitude",
			a:         Location{Latitude: 0, Longitude: 0},
			b:         Location{Latitude: 1, Longitude: 0},
			expected:  111195,
			tolerance: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.tolerance {
				t.Errorf("Expected distance ~%.2f, got %.2f", tt.expected, got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		loc     Location
		wantErr bool
	}{
		{"Valid", Location{Latitude: 37.5, Longitude: 127}, false},
		{"Poles and antimeridian", Location{Latitude: -90, Longitude: 180}, false},
		{"Latitude too high", Location{Latitude: 90.1, Longitude: 0}, true},
		{"Longitude too low", Location{Latitude: 0, Longitude: -180.5}, true},
		{"NaN", Location{Latitude: math.NaN(), Longitude: 0}, true},
		{"Inf", Location{Latitude: 0, Longitude: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.loc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMidpoint(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Location
		lat, lng float64
	}{
		{"Same hemisphere", Location{Latitude: 10, Longitude: 20}, Location{Latitude: 20, Longitude: 40}, 15, 30},
		{"Across the prime meridian", Location{Latitude: 51.5, Longitude: -0.2}, Location{Latitude: 51.5, Longitude: 0.2}, 51.5, 0},
		{"Across the antimeridian", Location{Latitude: -17, Longitude: 179.8}, Location{Latitude: -17, Longitude: -179.6}, -17, -179.9},
		{"Across the antimeridian reversed", Location{Latitude: -17, Longitude: -179.6}, Location{Latitude: -17, Longitude: 179.8}, -17, -179.9},
		{"Meeting on the antimeridian", Location{Latitude: 0, Longitude: 179}, Location{Latitude: 0, Longitude: -179}, 0, -180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Midpoint(tt.a, tt.b)
			if math.Abs(m.Latitude-tt.lat) > 1e-9 || math.Abs(m.Longitude-tt.lng) > 1e-9 {
				t.Errorf("Expected (%f, %f), got (%f, %f)", tt.lat, tt.lng, m.Latitude, m.Longitude)
			}
		})
	}
}
