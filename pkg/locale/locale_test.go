package locale

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDecimalBasic(t *testing.T) {
	d, ok := ParseDecimal([]byte("1,234.50"), '.', ',')
	require.True(t, ok)
	require.False(t, d.Negative)
	require.Equal(t, "1234", d.IntDigits)
	require.Equal(t, "50", d.FracDigits)
}

func TestParseDecimalNegative(t *testing.T) {
	d, ok := ParseDecimal([]byte("  -007.5"), '.', ',')
	require.True(t, ok)
	require.True(t, d.Negative)
	require.Equal(t, "7", d.IntDigits)
	require.Equal(t, "5", d.FracDigits)
}

func TestParseDecimalPlusIgnored(t *testing.T) {
	d, ok := ParseDecimal([]byte("+42"), '.', ',')
	require.True(t, ok)
	require.False(t, d.Negative)
	require.Equal(t, "42", d.IntDigits)
	require.Equal(t, "", d.FracDigits)
}

func TestParseDecimalTerminatesOnJunk(t *testing.T) {
	d, ok := ParseDecimal([]byte("12abc"), '.', ',')
	require.True(t, ok)
	require.Equal(t, "12", d.IntDigits)
}

func TestParseDecimalNoDigitsFails(t *testing.T) {
	_, ok := ParseDecimal([]byte("   "), '.', ',')
	require.False(t, ok)
}
