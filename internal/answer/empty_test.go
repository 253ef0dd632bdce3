package answer

import "testing"

func strp(s string) *string { return &s }

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name       string
		log        *string
		inProgress *string
		final      *string
		want       bool
	}{
		{
			name: "all fields absent",
			want: true,
		},
		{
			name: "log with single event only",
			log:  strp("start"),
			want: true,
		},
		{
			name:  "single event log overrides present final strokes",
			log:   strp("start"),
			final: strp(`[{'class':'car','strokes':[[1,2]]}]`),
			want:  true,
		},
		{
			name:       "both fields are the sentinel",
			log:        strp("start-click-submit"),
			inProgress: strp("None"),
			final:      strp("None"),
			want:       true,
		},
		{
			name:  "final entry with strokes",
			log:   strp("start-click"),
			final: strp(`[{'class':'car','strokes':[[1,2],[3,4]]}]`),
			want:  false,
		},
		{
			name:       "in-progress entry with data",
			log:        strp("start-click"),
			inProgress: strp(`[{'class':'person','data':[[7,7]],'strokes':[]}]`),
			final:      strp("None"),
			want:       false,
		},
		{
			name:       "in-progress entry with strokes only",
			log:        strp("start-click-draw"),
			inProgress: strp(`[{'class':'person','data':[],'strokes':[[1,1]]}]`),
			want:       false,
		},
		{
			name:       "in-progress entries all empty and final is sentinel",
			log:        strp("start-click"),
			inProgress: strp(`[{'class':'car','data':[],'strokes':[]}]`),
			final:      strp("None"),
			want:       true,
		},
		{
			name:  "final entries all empty",
			log:   strp("start-click-submit"),
			final: strp(`[{'class':'car','strokes':[]},{'class':'bus','strokes':[]}]`),
			want:  true,
		},
		{
			name:  "escaped double-quoted final with strokes",
			log:   strp("start-click-submit"),
			final: strp(`[{\"class\":\"car\",\"strokes\":[[1,2]]}]`),
			want:  false,
		},
		{
			name:  "mixed empty and filled final entries",
			log:   strp("start-click"),
			final: strp(`[{'class':'car','strokes':[]},{'class':'bus','strokes':[[5,5]]}]`),
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsEmpty(tt.log, tt.inProgress, tt.final)
			if got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilledEntryCount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		key  string
		want int
	}{
		{"empty string", "", "strokes", 0},
		{"one filled", `[{'class':'car','strokes':[[1,2]]}]`, "strokes", 1},
		{"one empty", `[{'class':'car','strokes':[]}]`, "strokes", 0},
		{"two of three filled", `[{'strokes':[[1]]},{'strokes':[]},{'strokes':[[2]]}]`, "strokes", 2},
		{"spaced json", `[{"strokes": [ [1,2] ]}]`, "strokes", 1},
		{"data key ignored for strokes", `[{'data':[[1]],'strokes':[]}]`, "strokes", 0},
		{"data key counted", `[{'data':[[1]],'strokes':[]}]`, "data", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilledEntryCount(tt.in, tt.key); got != tt.want {
				t.Errorf("FilledEntryCount(%q, %q) = %d, want %d", tt.in, tt.key, got, tt.want)
			}
		})
	}
}
