package report

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/stats"
	"github.com/sells-group/funnel-sync/internal/window"
)

// Publisher is a reporting sink for funnel statistics.
type Publisher interface {
	PublishDaily(ctx context.Context, r DailyReport, day window.Day) error
	PublishMonthlyRollup(ctx context.Context, perDay map[window.Day]int, dayCount int, start window.Day) error
}

// DailyReport is the content of one day column.
type DailyReport struct {
	Stats    stats.Statistics
	Managers int
	// Sales comes from the sales workbook. When nil the sold counter of
	// Stats is reported and the amount is left empty.
	Sales *Sales
}

// Workbook publishes into a local xlsx file, one sheet per week-month.
type Workbook struct {
	path string
	city string
	mu   sync.Mutex
}

var _ Publisher = (*Workbook)(nil)

// NewWorkbook creates a Workbook writing to path. The file is created on the
// first publish.
func NewWorkbook(path, city string) *Workbook {
	return &Workbook{path: path, city: city}
}

// PublishDaily writes r into the column of day, creating the sheet from the
// template when missing.
func (w *Workbook) PublishDaily(ctx context.Context, r DailyReport, day window.Day) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "report: publish daily")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}

	sh, week, err := w.sheetFor(f, day)
	if err != nil {
		return err
	}
	col := DayColumn(week, day.ISOWeekday())

	s := r.Stats
	cellAt(sh, RowLeads, col).SetInt(s.Total)
	cellAt(sh, RowQualified, col).SetInt(s.Qualified)
	cellAt(sh, RowQualifiedBack, col).SetInt(s.QualifiedRegressed)
	cellAt(sh, RowRecorded, col).SetInt(s.Recorded)
	cellAt(sh, RowRecordedNoTime, col).SetInt(s.RecordedRegressed)
	cellAt(sh, RowMet, col).SetInt(s.Met)
	cellAt(sh, RowMetBack, col).SetInt(s.MetRegressed)
	if r.Sales != nil {
		cellAt(sh, RowSold, col).SetInt(r.Sales.Count)
		cellAt(sh, RowSalesAmount, col).SetFloat(r.Sales.Amount)
	} else {
		cellAt(sh, RowSold, col).SetInt(s.Sold)
	}
	cellAt(sh, RowManagers, col).SetInt(r.Managers)
	for row, pair := range ratioRows {
		cellAt(sh, row, col).SetFormula(ratioFormula(col, pair))
	}

	if err := w.save(f); err != nil {
		return err
	}
	zap.L().Debug("report: published daily column",
		zap.String("sheet", sh.Name),
		zap.String("day", day.String()),
		zap.String("column", colName(col)),
	)
	return nil
}

// PublishMonthlyRollup writes the number of meetings booked for each day on
// or after start, and the daily average over dayCount days into the month
// fact column of the sheet of start's calendar month.
func (w *Workbook) PublishMonthlyRollup(ctx context.Context, perDay map[window.Day]int, dayCount int, start window.Day) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "report: publish rollup")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}

	total := 0
	for day, n := range perDay {
		if day.Before(start) {
			continue
		}
		sh, week, err := w.sheetFor(f, day)
		if err != nil {
			return err
		}
		cellAt(sh, RowBookedForDay, DayColumn(week, day.ISOWeekday())).SetInt(n)
		total += n
	}

	sh, err := w.monthSheet(f, start.Year, start.Month)
	if err != nil {
		return err
	}
	avg := 0.0
	if dayCount > 0 {
		avg = float64(total) / float64(dayCount)
	}
	cellAt(sh, RowBookedForDay, ColFact).SetFloat(avg)

	return w.save(f)
}

func (w *Workbook) open() (*xlsx.File, error) {
	if _, err := os.Stat(w.path); errors.Is(err, fs.ErrNotExist) {
		return xlsx.NewFile(), nil
	}
	f, err := xlsx.OpenFile(w.path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: open %s", w.path)
	}
	return f, nil
}

func (w *Workbook) sheetFor(f *xlsx.File, day window.Day) (*xlsx.Sheet, int, error) {
	monday, week := WeekOf(day)
	sh, err := w.monthSheet(f, monday.Year, monday.Month)
	if err != nil {
		return nil, 0, err
	}
	return sh, week, nil
}

// monthSheet returns the sheet of a calendar month, creating it from the
// template when missing.
func (w *Workbook) monthSheet(f *xlsx.File, year int, month time.Month) (*xlsx.Sheet, error) {
	name := SheetName(month, year)
	if sh, ok := f.Sheet[name]; ok {
		return sh, nil
	}
	sh, err := addMonthSheet(f, w.city, year, month)
	if err != nil {
		return nil, eris.Wrapf(err, "report: add sheet %s", name)
	}
	zap.L().Info("report: created month sheet", zap.String("sheet", name))
	return sh, nil
}

// save writes through a temporary file so a crash never leaves a truncated
// workbook behind.
func (w *Workbook) save(f *xlsx.File) error {
	tmp := w.path + ".tmp"
	if err := f.Save(tmp); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "report: save %s", w.path)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return eris.Wrapf(err, "report: save %s", w.path)
	}
	return nil
}
