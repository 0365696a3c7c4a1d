package service

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archiver-module/internal/archiveclient"
	"github.com/bigkaa/goartstore/archiver-module/internal/distclient"
	"github.com/bigkaa/goartstore/archiver-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archiver-module/internal/renderclient"
	"github.com/bigkaa/goartstore/archiver-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Mock внешних клиентов ---

type mockRenderer struct {
	mu       sync.Mutex
	calls    int
	renderFn func(ctx context.Context, payload renderclient.Payload) renderclient.Result
}

func (m *mockRenderer) Render(ctx context.Context, payload renderclient.Payload) renderclient.Result {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.renderFn != nil {
		return m.renderFn(ctx, payload)
	}
	return renderclient.Success{PDF: []byte("%PDF-test"), Attempts: 1}
}

type mockArchive struct {
	mu       sync.Mutex
	calls    int
	lastKind archiveclient.Kind
	lastData archiveclient.RecordData
	createFn func(ctx context.Context, token string, kind archiveclient.Kind, data archiveclient.RecordData) archiveclient.Result
}

func (m *mockArchive) CreateRecord(ctx context.Context, token string, kind archiveclient.Kind, data archiveclient.RecordData) archiveclient.Result {
	m.mu.Lock()
	m.calls++
	m.lastKind = kind
	m.lastData = data
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, token, kind, data)
	}
	return archiveclient.RecordCreated{
		RecordID:       "453857319",
		Finalized:      true,
		CorrelationRef: data.CorrelationRef,
		ArchivedAt:     data.ArchivedAt,
	}
}

type mockDistributor struct {
	mu           sync.Mutex
	calls        int
	distributeFn func(ctx context.Context, token, recordID, caseSystem string, forcePrint bool) distclient.Result
}

func (m *mockDistributor) Distribute(ctx context.Context, token, recordID, caseSystem string, forcePrint bool) distclient.Result {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.distributeFn != nil {
		return m.distributeFn(ctx, token, recordID, caseSystem, forcePrint)
	}
	return distclient.Ordered{OrderID: "bestilling-1"}
}

// --- In-memory репозитории ---

// memJournal — JournalRepository в памяти.
type memJournal struct {
	mu        sync.Mutex
	entries   []*model.JournalEntry
	appendErr error
	lookupErr error
}

func (j *memJournal) Append(_ context.Context, entry *model.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.appendErr != nil {
		return j.appendErr
	}
	e := *entry
	e.ID = int64(len(j.entries) + 1)
	entry.ID = e.ID
	j.entries = append(j.entries, &e)
	return nil
}

func (j *memJournal) find(match func(*model.JournalEntry) bool) []*model.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*model.JournalEntry
	for _, e := range j.entries {
		if match(e) {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

func (j *memJournal) FindBySubject(_ context.Context, fnr string, kind *model.EntryKind) ([]*model.JournalEntry, error) {
	return j.find(func(e *model.JournalEntry) bool {
		return e.SubjectFnr == fnr && (kind == nil || e.Kind == *kind)
	}), nil
}

func (j *memJournal) FindByPeriod(_ context.Context, periodID uuid.UUID, kind *model.EntryKind) ([]*model.JournalEntry, error) {
	return j.find(func(e *model.JournalEntry) bool {
		return e.PeriodID == periodID && (kind == nil || e.Kind == *kind)
	}), nil
}

func (j *memJournal) LatestByPeriod(ctx context.Context, periodID uuid.UUID, kind model.EntryKind) (*model.JournalEntry, error) {
	if j.lookupErr != nil {
		return nil, j.lookupErr
	}
	entries, _ := j.FindByPeriod(ctx, periodID, &kind)
	if len(entries) == 0 {
		return nil, repository.ErrNotFound
	}
	return entries[0], nil
}

// memPreviews — PreviewCacheRepository в памяти с управляемыми часами.
type memPreviews struct {
	mu        sync.Mutex
	rows      map[[2]string]*model.CachedPreview
	now       time.Time
	putErr    error
	deleteErr error
	deleteFn  func() (int64, error)
	sweeps    int
}

func newMemPreviews() *memPreviews {
	return &memPreviews{
		rows: make(map[[2]string]*model.CachedPreview),
		now:  time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC),
	}
}

func (p *memPreviews) advance(d time.Duration) {
	p.mu.Lock()
	p.now = p.now.Add(d)
	p.mu.Unlock()
}

func (p *memPreviews) Put(_ context.Context, caseWorkerIdent, fnr string, pdf []byte) (uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.putErr != nil {
		return uuid.Nil, p.putErr
	}
	key := [2]string{caseWorkerIdent, fnr}
	row, ok := p.rows[key]
	if !ok {
		row = &model.CachedPreview{CaseWorkerIdent: caseWorkerIdent, SubjectFnr: fnr, CreatedAt: p.now}
		p.rows[key] = row
	}
	row.PDF = pdf
	row.RetrievalID = uuid.New()
	row.UpdatedAt = p.now
	return row.RetrievalID, nil
}

func (p *memPreviews) Take(_ context.Context, retrievalID uuid.UUID, caseWorkerIdent string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, row := range p.rows {
		if row.RetrievalID == retrievalID && row.CaseWorkerIdent == caseWorkerIdent {
			delete(p.rows, key)
			return row.PDF, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (p *memPreviews) Delete(_ context.Context, retrievalID uuid.UUID, caseWorkerIdent string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	for key, row := range p.rows {
		if row.RetrievalID == retrievalID && row.CaseWorkerIdent == caseWorkerIdent {
			delete(p.rows, key)
		}
	}
	return nil
}

func (p *memPreviews) DeleteNotUpdatedWithin(_ context.Context, ttl time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweeps++
	if p.deleteFn != nil {
		return p.deleteFn()
	}
	threshold := p.now.Add(-ttl)
	var n int64
	for key, row := range p.rows {
		if row.UpdatedAt.Before(threshold) {
			delete(p.rows, key)
			n++
		}
	}
	return n, nil
}

func (p *memPreviews) sweepCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sweeps
}
