package rag

import "testing"

func TestAssembleContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		docs []Document
		want string
	}{
		{
			name: "empty input",
			docs: nil,
			want: "",
		},
		{
			name: "single document",
			docs: []Document{{Content: "Refunds are processed within 14 days."}},
			want: "Refunds are processed within 14 days.",
		},
		{
			name: "multiple documents joined by blank line in input order",
			docs: []Document{
				{Content: "first", Score: 0.9},
				{Content: "second", Score: 0.5},
				{Content: "third", Score: 0.5},
			},
			want: "first\n\nsecond\n\nthird",
		},
		{
			name: "empty contents preserved, not skipped",
			docs: []Document{{Content: ""}, {Content: "tail"}},
			want: "\n\ntail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := AssembleContext(tt.docs)
			if got != tt.want {
				t.Errorf("AssembleContext() = %q, want %q", got, tt.want)
			}

			// Purity: a second call with the same input yields identical output.
			if again := AssembleContext(tt.docs); again != got {
				t.Errorf("AssembleContext not deterministic: %q then %q", got, again)
			}
		})
	}
}
