package voice

import "testing"

func TestSpeechText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure \U0001F60A **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the agenda](https://example.com/agenda) first.",
			want: "Read the agenda first.",
		},
		{
			name: "drops code blocks but reads inline code",
			in:   "```json\n{\"a\":1}\n```\nRenamed it to `Q3 plan` ✅",
			want: "Renamed it to Q3 plan.",
		},
		{
			name: "removes surrounding quotes",
			in:   "\"I added Call Bob for tomorrow at 3 PM.\"",
			want: "I added Call Bob for tomorrow at 3 PM.",
		},
		{
			name: "list items become sentences",
			in:   "You have 2 tasks:\n\n- Call Bob\n* Ship it\n1. Review deck",
			want: "You have 2 tasks: Call Bob. Ship it. Review deck.",
		},
		{
			name: "skips rules and spells ampersands",
			in:   "Sales & marketing sync\n---\nat 10:30",
			want: "Sales and marketing sync. at 10:30.",
		},
		{
			name: "normalizes odd punctuation spacing",
			in:   "Hello***world///again",
			want: "Hello world again.",
		},
		{
			name: "empty after cleanup",
			in:   " ** ",
			want: "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := SpeechText(tc.in)
			if got != tc.want {
				t.Fatalf("SpeechText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
