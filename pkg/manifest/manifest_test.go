package manifest

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "plain requirements pass through",
			input: "flask==2.0\nrequests\n",
			want:  []string{"flask==2.0", "requests"},
		},
		{
			name:  "blank lines and indentation removed",
			input: "\n  flask  \n\n\nrequests\n",
			want:  []string{"flask", "requests"},
		},
		{
			name:  "pasted pip command unfolded",
			input: "pip install flask requests\n",
			want:  []string{"flask", "requests"},
		},
		{
			name:  "pip command casing ignored",
			input: "PIP INSTALL flask\n",
			want:  []string{"flask"},
		},
		{
			name:  "mixed pip commands and plain lines",
			input: "numpy\npip install pandas scipy\nflask==2.0\n",
			want:  []string{"numpy", "pandas", "scipy", "flask==2.0"},
		},
		{
			name:  "comments excluded from entries",
			input: "# pinned for CVE-2023-1234\nflask==2.0\n",
			want:  []string{"flask==2.0"},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse([]byte(tt.input)).Entries()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Entries() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDigestStableUnderFormatting(t *testing.T) {
	a := Parse([]byte("flask\nrequests\n"))
	b := Parse([]byte("\n  flask\n\nrequests  \n\n"))

	if a.Digest() != b.Digest() {
		t.Errorf("digests differ for equivalent manifests: %s vs %s", a.Digest(), b.Digest())
	}

	c := Parse([]byte("flask==2.0\nrequests\n"))
	if a.Digest() == c.Digest() {
		t.Error("digests equal for different manifests")
	}
}

func TestEmpty(t *testing.T) {
	if !Parse(nil).Empty() {
		t.Error("nil manifest should be empty")
	}
	if !Parse([]byte("# only a comment\n")).Empty() {
		t.Error("comment-only manifest should be empty")
	}
	if Parse([]byte("flask\n")).Empty() {
		t.Error("manifest with entries should not be empty")
	}
}
