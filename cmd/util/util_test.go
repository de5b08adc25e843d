package util

import (
	"strings"
	"testing"

	"github.com/frostbyte-io/frostbyte-go/config"
)

func TestParseNodes(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []config.NodeAddress
		wantErr bool
	}{
		{
			name: "single node",
			raw:  "localhost:6380",
			want: []config.NodeAddress{{Host: "localhost", Port: 6380, Weight: 1}},
		},
		{
			name: "multiple nodes with weights",
			raw:  "a:6380:2, b:6381:3",
			want: []config.NodeAddress{
				{Host: "a", Port: 6380, Weight: 2},
				{Host: "b", Port: 6381, Weight: 3},
			},
		},
		{
			name: "mixed weight and no weight",
			raw:  "a:6380,b:6381:4",
			want: []config.NodeAddress{
				{Host: "a", Port: 6380, Weight: 1},
				{Host: "b", Port: 6381, Weight: 4},
			},
		},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "missing port", raw: "localhost", wantErr: true},
		{name: "bad port", raw: "localhost:sixty", wantErr: true},
		{name: "bad weight", raw: "localhost:6380:heavy", wantErr: true},
		{name: "too many fields", raw: "a:1:2:3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNodes(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNodes(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d nodes, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("node %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWrapString(t *testing.T) {
	long := "the quick brown fox jumps over the lazy dog and keeps running until the " +
		"sentence is comfortably longer than a single help line could ever hold"
	wrapped := WrapString(long)

	for _, line := range strings.Split(wrapped, "\n") {
		if len(line) > Wrap {
			t.Errorf("line %q exceeds the wrap width %d", line, Wrap)
		}
	}
	if strings.Join(strings.Fields(wrapped), " ") != long {
		t.Error("wrapping changed the words")
	}
}
