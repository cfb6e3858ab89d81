package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func createSalesBook(t *testing.T, sheet string, amount, count string, dayOfMonth int) string {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet(sheet)
	require.NoError(t, err)

	cellAt(sh, 1, 1).SetString("Sales plan")
	cellAt(sh, 2, 1).SetString("PAYMENTS AMOUNT")
	cellAt(sh, 2, 3+dayOfMonth).SetString(amount)
	cellAt(sh, 3, 1).SetString("Payments count")
	cellAt(sh, 3, 3+dayOfMonth).SetString(count)

	path := filepath.Join(t.TempDir(), "sales.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestSalesBook_Lookup(t *testing.T) {
	path := createSalesBook(t, "JULY 2025", "1 500", "3", 5)

	s := NewSalesBook(path).Lookup(day(2025, time.July, 5))
	assert.InDelta(t, 1500000, s.Amount, 0.001)
	assert.Equal(t, 3, s.Count)

	// Another day of the same sheet is empty.
	assert.Equal(t, Sales{}, NewSalesBook(path).Lookup(day(2025, time.July, 6)))
}

func TestSalesBook_MissingSheet(t *testing.T) {
	path := createSalesBook(t, "JUNE 2025", "10", "1", 5)

	_, err := NewSalesBook(path).read(day(2025, time.July, 5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JULY 2025")
	assert.Equal(t, Sales{}, NewSalesBook(path).Lookup(day(2025, time.July, 5)))
}

func TestSalesBook_BadNumber(t *testing.T) {
	path := createSalesBook(t, "JULY 2025", "n/a", "3", 5)
	_, err := NewSalesBook(path).read(day(2025, time.July, 5))
	assert.Error(t, err)
}

func TestSalesBook_MissingFile(t *testing.T) {
	s := NewSalesBook(filepath.Join(t.TempDir(), "none.xlsx")).Lookup(day(2025, time.July, 5))
	assert.Equal(t, Sales{}, s)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"12", 12},
		{" 1 250 ", 1250},
		{"1 250,5", 1250.5},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 0.0001, tt.in)
	}
}
