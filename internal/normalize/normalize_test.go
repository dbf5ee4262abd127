package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "full cleanup",
			in:   "Check this link http://example.com @user123 #harcèlement !!! 😡😡",
			want: "check this link harcelement",
		},
		{
			name: "https url with path and query",
			in:   "see https://example.com/a/b?x=1&y=2 now",
			want: "see now",
		},
		{
			name: "hashtag keeps tag text",
			in:   "#StopHarcèlement c'est grave",
			want: "stopharcelement c'est grave",
		},
		{
			name: "mention removed entirely",
			in:   "cc @Jean_Dupont42 regarde",
			want: "cc regarde",
		},
		{
			name: "whitespace collapsed",
			in:   "  trop \t de\n\nplace  ",
			want: "trop de place",
		},
		{
			name: "control characters dropped",
			in:   "avant\x00\x1fapres",
			want: "avant apres",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
		{
			name: "only noise",
			in:   "!!! ??? 🤬 @x #",
			want: "",
		},
		{
			name: "hyphenated word survives",
			in:   "peut-être demain",
			want: "peut-etre demain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Check this link http://example.com @user123 #harcèlement !!! 😡😡",
		"déjà vu, rien à signaler",
		"#tag1 #tag2 @a @b https://x.fr/y",
		"",
		"plain ascii text",
		"çà et là, où ça ? élève número 1",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "not idempotent for %q", in)
	}
}
