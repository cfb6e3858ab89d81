package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-sync/internal/funnel"
	"github.com/sells-group/funnel-sync/internal/report"
	"github.com/sells-group/funnel-sync/internal/store"
	"github.com/sells-group/funnel-sync/internal/window"
	"github.com/sells-group/funnel-sync/pkg/amocrm"
)

const (
	commonPipe     = int64(100)
	successPipe    = int64(200)
	statusIncoming = int64(10)
	statusQual     = int64(20)
	statusBooked   = int64(25)
	statusDecision = int64(30)
	statusPaid     = int64(99)
	meetingField   = int64(900)
)

var testDay = window.Day{Year: 2025, Month: time.July, Day: 21}

func testRules(t *testing.T) funnel.Rules {
	t.Helper()
	table, err := funnel.NewFieldTable([]funnel.FieldRule{
		{ID: meetingField, Kind: "meeting_time"},
		{ID: 901, Kind: "reject_reason"},
	})
	require.NoError(t, err)
	return funnel.Rules{
		CommonPipeline:       commonPipe,
		SuccessPipeline:      successPipe,
		DecisionStatus:       statusDecision,
		QualificationRejects: funnel.DefaultQualificationRejects,
		MeetingRejects:       funnel.DefaultMeetingRejects,
		Fields:               table,
	}
}

func testPipelines() map[int64]*amocrm.Pipeline {
	return map[int64]*amocrm.Pipeline{
		commonPipe: {ID: commonPipe, Name: "Sales", Statuses: []amocrm.Status{
			{ID: statusIncoming, Name: "Incoming", Sort: 10},
			{ID: statusQual, Name: "Qualification passed", Sort: 40},
			{ID: statusBooked, Name: "Meeting booked", Sort: 50},
			{ID: statusDecision, Name: "Making a decision", Sort: 60},
			{ID: 142, Name: "Closed", Sort: -1},
		}},
		successPipe: {ID: successPipe, Name: "Paid", Statuses: []amocrm.Status{
			{ID: statusPaid, Name: "Paid", Sort: 10},
		}},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "funnel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seededStore returns a store with the stages of testPipelines.
func seededStore(t *testing.T) store.Store {
	t.Helper()
	s := newTestStore(t)
	_, err := RefreshStages(context.Background(), &fakeClient{pipelines: testPipelines()}, s, commonPipe, successPipe)
	require.NoError(t, err)
	return s
}

func crmLead(id, pipeline, status, createdAt int64) amocrm.Lead {
	return amocrm.Lead{ID: id, PipelineID: pipeline, StatusID: status, CreatedAt: createdAt, UpdatedAt: createdAt}
}

func withMeeting(l amocrm.Lead, at int64) amocrm.Lead {
	l.CustomFields = append(l.CustomFields, amocrm.CustomField{
		FieldID: meetingField,
		Values:  json.RawMessage(`[{"value":` + strconv.FormatInt(at, 10) + `}]`),
	})
	return l
}

// fakeClient serves leads in pages of pageSize.
type fakeClient struct {
	mu        sync.Mutex
	leads     []amocrm.Lead
	pageSize  int
	pipelines map[int64]*amocrm.Pipeline
	users     []amocrm.User
	err       error
	queries   []amocrm.LeadsQuery
}

func (f *fakeClient) setLeads(leads ...amocrm.Lead) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads = leads
}

func (f *fakeClient) Leads(_ context.Context, q amocrm.LeadsQuery) (*amocrm.LeadsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}

	size := f.pageSize
	if size <= 0 {
		size = 250
	}
	var inWindow []amocrm.Lead
	for _, l := range f.leads {
		if l.CreatedAt >= q.From && l.CreatedAt <= q.To {
			inWindow = append(inWindow, l)
		}
	}

	start := (q.Page - 1) * size
	if start >= len(inWindow) {
		return &amocrm.LeadsPage{Page: q.Page}, nil
	}
	end := min(start+size, len(inWindow))
	page := &amocrm.LeadsPage{Page: q.Page, Leads: inWindow[start:end]}
	if end < len(inWindow) {
		page.Next = "https://example.amocrm.ru/api/v4/leads?page=" + strconv.Itoa(q.Page+1)
	}
	return page, nil
}

func (f *fakeClient) Pipeline(_ context.Context, id int64) (*amocrm.Pipeline, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.pipelines[id]
	if !ok {
		return nil, errors.New("pipeline not found")
	}
	return p, nil
}

func (f *fakeClient) Users(_ context.Context, page int) (*amocrm.UsersPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if page > 1 {
		return &amocrm.UsersPage{Page: page}, nil
	}
	return &amocrm.UsersPage{Page: 1, Users: f.users}, nil
}

type rollupCall struct {
	perDay   map[window.Day]int
	dayCount int
	start    window.Day
}

type fakePublisher struct {
	daily   []report.DailyReport
	days    []window.Day
	rollups []rollupCall
	err     error
}

func (p *fakePublisher) PublishDaily(_ context.Context, r report.DailyReport, day window.Day) error {
	if p.err != nil {
		return p.err
	}
	p.daily = append(p.daily, r)
	p.days = append(p.days, day)
	return nil
}

func (p *fakePublisher) PublishMonthlyRollup(_ context.Context, perDay map[window.Day]int, dayCount int, start window.Day) error {
	if p.err != nil {
		return p.err
	}
	p.rollups = append(p.rollups, rollupCall{perDay: perDay, dayCount: dayCount, start: start})
	return nil
}

type fixedSales report.Sales

func (s fixedSales) Lookup(window.Day) report.Sales { return report.Sales(s) }
