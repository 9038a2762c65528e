package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePaise(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"100", 10000},
		{"100.5", 10050},
		{"100.50", 10050},
		{"0.01", 1},
		{"0.1", 10},
		{"₹1,250.75", 125075},
		{" 42 ", 4200},
		{"-5.25", -525},
	}
	for _, tc := range cases {
		got, err := ParsePaise(tc.in)
		assert.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParsePaiseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "10.255", "."} {
		_, err := ParsePaise(in)
		assert.Error(t, err, in)
	}
}

func TestFormatRupees(t *testing.T) {
	assert.Equal(t, "100.00", FormatRupees(10000))
	assert.Equal(t, "100.50", FormatRupees(10050))
	assert.Equal(t, "0.01", FormatRupees(1))
	assert.Equal(t, "1250.75", FormatRupees(125075))
}
