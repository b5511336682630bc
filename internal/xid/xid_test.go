package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("ord")
	b := New("ord")
	assert.True(t, strings.HasPrefix(a, "ord_"))
	assert.NotEqual(t, a, b)
}

func TestControlIsShort(t *testing.T) {
	id := Control("ord")
	assert.Regexp(t, `^ORD-[0-9A-F]{8}$`, id)
}
