package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	assert.True(t, changed)
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		assert.Contains(t, out, marker)
	}
	assert.NotContains(t, out, "sam@example.com")
}

func TestRedactPIIKeepsSchedulingText(t *testing.T) {
	for _, input := range []string{
		"Move the review to 2024-03-15 at 10:30",
		"Schedule lunch on 03/15/2024 12 30",
		"Budget is 1500 for 12 people",
	} {
		out, changed := RedactPII(input)
		assert.False(t, changed, input)
		assert.Equal(t, input, out)
	}
}
