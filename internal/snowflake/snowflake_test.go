package snowflake

import (
	"testing"
	"time"
)

func TestTime(t *testing.T) {
	tests := []struct {
		name    string
		id      int64
		want    time.Time
		wantErr bool
	}{
		{
			name: "epoch id",
			id:   1 << 22,
			want: time.UnixMilli(Epoch + 1).UTC(),
		},
		{
			name: "known message id",
			id:   175928847299117063,
			want: time.Date(2016, time.April, 30, 11, 18, 25, 796_000_000, time.UTC),
		},
		{
			name:    "zero id",
			id:      0,
			wantErr: true,
		},
		{
			name:    "negative id",
			id:      -5,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Time(tt.id)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Time(%d) expected error, got %v", tt.id, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Time(%d) unexpected error: %v", tt.id, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Time(%d) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

// decoding must not depend on the call site
func TestTimeDeterministic(t *testing.T) {
	const id = int64(1000)
	first, err := Time(id)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		again, err := Time(id)
		if err != nil {
			t.Fatal(err)
		}
		if !again.Equal(first) {
			t.Fatalf("Time(%d) varied between calls: %v vs %v", id, first, again)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{name: "valid", in: "175928847299117063", want: 175928847299117063},
		{name: "empty", in: "", wantErr: true},
		{name: "not a number", in: "abc", wantErr: true},
		{name: "zero", in: "0", wantErr: true},
		{name: "negative", in: "-12", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr != (err != nil) {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromTimeRoundTrip(t *testing.T) {
	at := time.Date(2020, time.June, 1, 12, 0, 0, 0, time.UTC)
	id := FromTime(at)
	decoded, err := Time(id)
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Equal(at) {
		t.Errorf("round trip = %v, want %v", decoded, at)
	}
}
