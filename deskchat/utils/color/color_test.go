package color

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestColorsAreSkippedWhenDisabled(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	assert.Equal(t, "you", ColorSelf("you"))
	assert.Equal(t, "agent", ColorSender("agent", "agent"))
	assert.Equal(t, "x", ColorSender("bot", "x"))
	assert.Equal(t, "! boom", ColorError("! boom"))
}

func TestColorSenderWrapsKnownTypes(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = prev })

	assert.NotEqual(t, "agent", ColorSender("agent", "agent"))
	assert.NotEqual(t, "customer", ColorSender("customer", "customer"))
	assert.Equal(t, "other", ColorSender("other", "other"))
}
