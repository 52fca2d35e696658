package testutils

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recorder captures failures instead of failing the test.
type recorder struct {
	failures []string
}

func (r *recorder) Helper() {}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestTextAsserter_Defaults(t *testing.T) {
	assert.Equal(t, TextAssertOptions{}, NewTextAsserter(t).Options(), "every option MUST default to off")
}

func TestTextAsserter_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{"exact", nil, "a\nb", "a\nb", true},
		{"trailing whitespace matters by default", nil, "a  \nb", "a\nb", false},
		{"trailing whitespace ignored", []TextOption{WithIgnoreTrailingWhitespace(true)}, "a  \nb\t", "a\nb", true},
		{"leading whitespace ignored", []TextOption{WithIgnoreLeadingWhitespace(true)}, "  a\n\tb", "a\nb", true},
		{"empty lines ignored", []TextOption{WithIgnoreEmptyLines(true)}, "a\n\n  \nb", "a\nb", true},
		{"trim space", []TextOption{WithTrimSpace(true)}, "\n\na\nb\n", "a\nb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			got := NewTextAsserter(r).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.match, got)
			assert.Equal(t, !tt.match, len(r.failures) == 1, "a mismatch MUST be reported exactly once")
		})
	}
}

func TestTextAsserter_Diff(t *testing.T) {
	ta := NewTextAsserter(t)

	diff := ta.Diff("0x0001 service\n0x0002 value\n", "0x0001 service\n0x0002 descriptor\n")
	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-0x0002 descriptor")
	assert.Contains(t, diff, "+0x0002 value")

	colored := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b\n", "a c\n")
	assert.Contains(t, colored, "a·b", "changed lines MUST show their spaces")
	assert.Contains(t, colored, "\x1b[", "colors MUST be forced on")
}

func TestTextAsserter_AssertRendered(t *testing.T) {
	ok := NewTextAsserter(t).AssertRendered(func(w io.Writer) error {
		_, err := fmt.Fprintln(w, "rendered")
		return err
	}, "rendered\n")
	assert.True(t, ok)

	r := &recorder{}
	ok = NewTextAsserter(r).AssertRendered(func(io.Writer) error { return io.ErrShortWrite }, "")
	assert.False(t, ok)
	assert.Len(t, r.failures, 1, "a render error MUST fail the assertion")
}
