package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/tealeg/xlsx/v2"
)

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// addMonthSheet lays out an empty sheet for one week-month: the label and
// month columns followed by one block per week.
func addMonthSheet(f *xlsx.File, city string, year int, month time.Month) (*xlsx.Sheet, error) {
	sh, err := f.AddSheet(SheetName(month, year))
	if err != nil {
		return nil, err
	}

	cellAt(sh, 1, 1).SetString(fmt.Sprintf("%s %s", city, month))
	cellAt(sh, 3, 1).SetString("Metrics")
	cellAt(sh, 3, ColPlan).SetString("Plan")
	cellAt(sh, 3, ColFact).SetString("Fact")
	cellAt(sh, 3, ColProjection).SetString("Projection")
	cellAt(sh, RowLeads, 1).SetString("Closers")
	for row := RowLeads; row <= RowBookedForDay; row++ {
		cellAt(sh, row, ColLabel).SetString(rowLabels[row])
	}

	mondays := Mondays(year, month)
	weekFacts := make([]int, len(mondays))
	for i, monday := range mondays {
		week := i + 1
		fact := weekFactColumn(week)
		weekFacts[i] = fact

		cellAt(sh, 3, fact-1).SetString(fmt.Sprintf("Week %d", week))
		cellAt(sh, 4, fact-1).SetString("Plan")
		cellAt(sh, 4, fact).SetString("Fact")
		for d := 1; d <= 7; d++ {
			day := monday.AddDays(d - 1)
			col := DayColumn(week, d)
			cellAt(sh, 3, col).SetString(fmt.Sprintf("%d.%02d", day.Day, int(day.Month)))
			cellAt(sh, 4, col).SetString(weekdayNames[d-1])
		}

		first, last := colName(DayColumn(week, 1)), colName(DayColumn(week, 7))
		for _, row := range countRows {
			cellAt(sh, row, fact).SetFormula(fmt.Sprintf("SUM(%s%d:%s%d)", first, row, last, row))
		}
		cellAt(sh, RowManagers, fact).SetFormula(fmt.Sprintf("AVERAGE(%s%d:%s%d)", first, RowManagers, last, RowManagers))
		for row, pair := range ratioRows {
			cellAt(sh, row, fact).SetFormula(ratioFormula(fact, pair))
		}
	}

	// Month fact: sums of the week facts. RowBookedForDay is filled by the
	// monthly rollup.
	for _, row := range countRows {
		if row == RowBookedForDay {
			continue
		}
		cellAt(sh, row, ColFact).SetFormula(sumOfWeeks(weekFacts, row))
	}
	cellAt(sh, RowManagers, ColFact).SetFormula(fmt.Sprintf("IFERROR((%s)/%d,0)", sumOfWeeks(weekFacts, RowManagers), len(weekFacts)))
	for row, pair := range ratioRows {
		cellAt(sh, row, ColFact).SetFormula(ratioFormula(ColFact, pair))
	}
	cellAt(sh, RowSalesAmount, ColProjection).SetFormula(
		fmt.Sprintf("IFERROR(%s/DAY(TODAY())*DAY(EOMONTH(TODAY(),0)),0)", ref(ColFact, RowSalesAmount)))

	return sh, nil
}

func sumOfWeeks(weekFacts []int, row int) string {
	refs := make([]string, len(weekFacts))
	for i, col := range weekFacts {
		refs[i] = ref(col, row)
	}
	return strings.Join(refs, "+")
}
