package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/window"
)

// salesLabel marks the count row of the sales workbook; the amount row is the
// one above it.
const salesLabel = "PAYMENTS COUNT"

// Sales is the sales amount and payment count of one day.
type Sales struct {
	Amount float64
	Count  int
}

// SalesBook reads daily sales from a workbook kept by the sales team. Sheets
// are named "<MONTH> <year>" and day n is in column 3+n. Amounts are entered
// in thousands.
type SalesBook struct {
	path string
}

// NewSalesBook creates a SalesBook reading path.
func NewSalesBook(path string) *SalesBook {
	return &SalesBook{path: path}
}

// Lookup returns the sales of day. Any read failure is logged and yields zero
// sales.
func (b *SalesBook) Lookup(day window.Day) Sales {
	s, err := b.read(day)
	if err != nil {
		zap.L().Error("report: read sales", zap.String("day", day.String()), zap.Error(err))
		return Sales{}
	}
	return s
}

func (b *SalesBook) read(day window.Day) (Sales, error) {
	f, err := xlsx.OpenFile(b.path)
	if err != nil {
		return Sales{}, eris.Wrapf(err, "report: open sales %s", b.path)
	}

	name := strings.ToUpper(fmt.Sprintf("%s %d", day.Month, day.Year))
	sh, ok := f.Sheet[name]
	if !ok {
		return Sales{}, eris.Errorf("report: sales sheet %q not found", name)
	}

	labelRow := -1
	for i, row := range sh.Rows {
		if row == nil {
			continue
		}
		for _, c := range row.Cells {
			if strings.EqualFold(strings.TrimSpace(c.String()), salesLabel) {
				labelRow = i
				break
			}
		}
		if labelRow >= 0 {
			break
		}
	}
	if labelRow < 1 {
		return Sales{}, eris.Errorf("report: %q not found in sheet %q", salesLabel, name)
	}

	col := 2 + day.Day
	amount, err := parseAmount(valueAt(sh, labelRow-1, col))
	if err != nil {
		return Sales{}, eris.Wrap(err, "report: sales amount")
	}
	count, err := parseAmount(valueAt(sh, labelRow, col))
	if err != nil {
		return Sales{}, eris.Wrap(err, "report: sales count")
	}
	return Sales{Amount: amount * 1000, Count: int(count)}, nil
}

func valueAt(sh *xlsx.Sheet, row, col int) string {
	if row >= len(sh.Rows) || sh.Rows[row] == nil || col >= len(sh.Rows[row].Cells) {
		return ""
	}
	return sh.Rows[row].Cells[col].String()
}

// parseAmount reads numbers typed with digit-group spaces. Empty is zero.
func parseAmount(s string) (float64, error) {
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
