package port

import (
	"testing"
)

func TestRange_SizeAndPorts(t *testing.T) {
	r := Range{From: 9222, To: 9232}

	if r.Size() != 11 {
		t.Errorf("Size() = %d, want 11", r.Size())
	}

	ports := r.Ports()
	if len(ports) != 11 {
		t.Fatalf("len(Ports()) = %d, want 11", len(ports))
	}
	if ports[0] != 9222 || ports[10] != 9232 {
		t.Errorf("Ports() = %v, want 9222..9232", ports)
	}
	for i := 1; i < len(ports); i++ {
		if ports[i] != ports[i-1]+1 {
			t.Errorf("Ports() not contiguous at %d: %v", i, ports)
		}
	}
}

func TestRange_Contains(t *testing.T) {
	r := Range{From: 9222, To: 9224}

	tests := []struct {
		port int
		want bool
	}{
		{9221, false},
		{9222, true},
		{9223, true},
		{9224, true},
		{9225, false},
	}

	for _, tt := range tests {
		if got := r.Contains(tt.port); got != tt.want {
			t.Errorf("Contains(%d) = %v, want %v", tt.port, got, tt.want)
		}
	}
}

func TestRange_Validate(t *testing.T) {
	tests := []struct {
		name    string
		r       Range
		wantErr bool
	}{
		{"single port", Range{From: 9222, To: 9222}, false},
		{"default range", Range{From: 9222, To: 9232}, false},
		{"reversed", Range{From: 9232, To: 9222}, true},
		{"zero", Range{}, true},
		{"too high", Range{From: 65000, To: 70000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRange_EmptySize(t *testing.T) {
	r := Range{From: 10, To: 5}
	if r.Size() != 0 {
		t.Errorf("Size() = %d, want 0", r.Size())
	}
	if len(r.Ports()) != 0 {
		t.Errorf("Ports() = %v, want empty", r.Ports())
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Range
		wantErr bool
	}{
		{"9222-9232", Range{9222, 9232}, false},
		{" 9222 - 9224 ", Range{9222, 9224}, false},
		{"9222", Range{9222, 9222}, false},
		{"9232-9222", Range{}, true},
		{"abc-9222", Range{}, true},
		{"9222-", Range{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if s := (Range{From: 1, To: 2}).String(); s != "1-2" {
		t.Errorf("String() = %q, want %q", s, "1-2")
	}
}
