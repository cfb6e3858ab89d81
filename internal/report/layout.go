// Package report publishes funnel statistics into a monthly xlsx workbook.
package report

import (
	"fmt"
	"time"

	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/funnel-sync/internal/window"
)

// Metric rows of a monthly sheet (1-based).
const (
	RowLeads          = 5
	RowCV1            = 6
	RowQualified      = 7
	RowQualifiedBack  = 8
	RowCV2            = 9
	RowRecorded       = 10
	RowRecordedNoTime = 11
	RowCV3            = 12
	RowMet            = 13
	RowMetBack        = 14
	RowCV4            = 15
	RowSold           = 16
	RowSalesAmount    = 17
	RowAverageCheck   = 18
	RowCV5            = 19
	RowManagers       = 20
	RowBookedForDay   = 21
)

// Fixed columns (1-based).
const (
	ColLabel      = 2
	ColPlan       = 3
	ColFact       = 4
	ColProjection = 5
)

// weekBlock is the column width of one week: plan, fact and seven days.
const weekBlock = 9

var rowLabels = map[int]string{
	RowLeads:          "Leads",
	RowCV1:            "CV1 (%) lead to qualified",
	RowQualified:      "Qualified",
	RowQualifiedBack:  "Qualified, moved back",
	RowCV2:            "CV2 (%) qualified to booked",
	RowRecorded:       "Meetings booked",
	RowRecordedNoTime: "Booked without time",
	RowCV3:            "CV3 (%) booked to met",
	RowMet:            "Meetings held",
	RowMetBack:        "Met, moved back",
	RowCV4:            "CV4 (%) met to sold",
	RowSold:           "Sales",
	RowSalesAmount:    "Sales amount",
	RowAverageCheck:   "Average check",
	RowCV5:            "CV5 (%) lead to sold",
	RowManagers:       "Managers",
	RowBookedForDay:   "Meetings booked for the date",
}

// ratioRows maps each conversion row to its numerator and denominator rows.
var ratioRows = map[int][2]int{
	RowCV1:          {RowQualified, RowLeads},
	RowCV2:          {RowRecorded, RowQualified},
	RowCV3:          {RowMet, RowRecorded},
	RowCV4:          {RowSold, RowMet},
	RowAverageCheck: {RowSalesAmount, RowSold},
	RowCV5:          {RowSold, RowLeads},
}

// countRows are summed over days and weeks; RowManagers is averaged.
var countRows = []int{
	RowLeads, RowQualified, RowQualifiedBack, RowRecorded, RowRecordedNoTime,
	RowMet, RowMetBack, RowSold, RowSalesAmount, RowBookedForDay,
}

// SheetName names the sheet of a week-month, e.g. "July 2025".
func SheetName(month time.Month, year int) string {
	return fmt.Sprintf("%s %d", month, year)
}

// WeekOf returns the Monday of the ISO week containing d and the 1-based
// index of that week within the Monday's month. A week belongs to the month
// its Monday falls in.
func WeekOf(d window.Day) (monday window.Day, week int) {
	monday = d.AddDays(1 - d.ISOWeekday())
	return monday, (monday.Day-1)/7 + 1
}

// Mondays lists the Mondays of a month, one per week block.
func Mondays(year int, month time.Month) []window.Day {
	d := window.Day{Year: year, Month: month, Day: 1}
	for d.ISOWeekday() != 1 {
		d = d.AddDays(1)
	}
	var out []window.Day
	for ; d.Month == month; d = d.AddDays(7) {
		out = append(out, d)
	}
	return out
}

// DayColumn is the 1-based column of ISO weekday isoDay in week block week.
func DayColumn(week, isoDay int) int {
	return weekBlock*week - 2 + isoDay
}

// weekFactColumn is the 1-based fact column of week block week.
func weekFactColumn(week int) int {
	return weekBlock*week - 2
}

func colName(col int) string {
	return xlsx.ColIndexToLetters(col - 1)
}

func ref(col, row int) string {
	return fmt.Sprintf("%s%d", colName(col), row)
}

func ratioFormula(col int, pair [2]int) string {
	return fmt.Sprintf("IFERROR(%s/%s,0)", ref(col, pair[0]), ref(col, pair[1]))
}

// cellAt returns the cell at a 1-based position, growing the sheet as needed.
func cellAt(sh *xlsx.Sheet, row, col int) *xlsx.Cell {
	for len(sh.Rows) < row {
		sh.AddRow()
	}
	r := sh.Rows[row-1]
	if r == nil {
		r = &xlsx.Row{Sheet: sh}
		sh.Rows[row-1] = r
	}
	for len(r.Cells) < col {
		r.AddCell()
	}
	return r.Cells[col-1]
}
