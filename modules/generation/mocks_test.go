package generation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"brand-canvas-server/modules/common/credit"
	"brand-canvas-server/modules/common/database"
	"brand-canvas-server/modules/common/gemini"
	"brand-canvas-server/modules/common/model"
	"brand-canvas-server/modules/common/storage"
)

const (
	datasetID     = "11111111-1111-1111-1111-111111111111"
	otherDataset  = "22222222-2222-2222-2222-222222222222"
	environmentID = "33333333-3333-3333-3333-333333333333"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n fake image body")

// fakeReferenceStore - datasets / dataset_images
type fakeReferenceStore struct {
	datasets     map[string]*model.Dataset
	images       map[string][]model.ReferenceImage
	environments map[string][]model.Dataset
	listErr      error
}

func newFakeReferenceStore() *fakeReferenceStore {
	return &fakeReferenceStore{
		datasets:     map[string]*model.Dataset{},
		images:       map[string][]model.ReferenceImage{},
		environments: map[string][]model.Dataset{},
	}
}

func (s *fakeReferenceStore) GetDataset(_ context.Context, id string) (*model.Dataset, error) {
	d, ok := s.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", id, database.ErrNotFound)
	}
	return d, nil
}

func (s *fakeReferenceStore) ListImages(_ context.Context, id string, _ int) ([]model.ReferenceImage, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.images[id], nil
}

func (s *fakeReferenceStore) ListEnvironmentDatasets(_ context.Context, id string) ([]model.Dataset, error) {
	return s.environments[id], nil
}

type fakeProfiles struct {
	profiles map[string]*model.BusinessProfile
}

func (p *fakeProfiles) GetBusinessProfile(_ context.Context, userID string) (*model.BusinessProfile, error) {
	if profile, ok := p.profiles[userID]; ok {
		return profile, nil
	}
	return nil, database.ErrNotFound
}

// fakeRecords - generations 테이블
type fakeRecords struct {
	mu        sync.Mutex
	records   []model.GenerationRecord
	createErr error
	lastQuery *model.GenerationFilter
}

// genID - n번째로 저장된 generation id
func genID(n int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
}

func (r *fakeRecords) CreateGeneration(_ context.Context, record *model.GenerationRecord) (*model.GenerationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	rec := *record
	rec.ID = genID(len(r.records) + 1)
	created := time.Date(2026, 1, 1, 0, len(r.records), 0, 0, time.UTC)
	rec.CreatedAt = &created
	r.records = append(r.records, rec)
	out := rec
	return &out, nil
}

func (r *fakeRecords) ListGenerations(_ context.Context, filter model.GenerationFilter, limit, offset int) (*model.GenerationPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastQuery = &filter

	var matched []model.GenerationRecord
	for _, rec := range r.records {
		switch {
		case filter.UserID == nil && rec.UserID != nil:
			continue
		case filter.UserID != nil && (rec.UserID == nil || *rec.UserID != *filter.UserID):
			continue
		case filter.DatasetID != "" && (rec.DatasetID == nil || *rec.DatasetID != filter.DatasetID):
			continue
		}
		matched = append(matched, rec)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(*matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return &model.GenerationPage{Records: matched[offset:end], Total: total, Limit: limit, Offset: offset}, nil
}

func (r *fakeRecords) GetGeneration(_ context.Context, id string) (*model.GenerationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			out := rec
			return &out, nil
		}
	}
	return nil, fmt.Errorf("generation %s: %w", id, database.ErrNotFound)
}

// fakeFetcher - failing에 있는 URL은 다운로드 실패로 취급
type fakeFetcher struct {
	failing map[string]bool
	calls   int
}

func (f *fakeFetcher) FetchAll(_ context.Context, urls []string) []storage.Blob {
	f.calls++
	var blobs []storage.Blob
	for _, u := range urls {
		if f.failing[u] {
			continue
		}
		blobs = append(blobs, storage.Blob{Data: []byte(u), MIMEType: "image/jpeg", SourceURL: u})
	}
	return blobs
}

// fakeModel - errs 순서대로 실패 후 성공
type fakeModel struct {
	mu       sync.Mutex
	errs     []error
	requests []gemini.Request
}

func (m *fakeModel) GenerateImage(_ context.Context, req gemini.Request) (*gemini.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if i := len(m.requests) - 1; i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	return &gemini.Response{Data: pngSignature, MIMEType: "image/png"}, nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type fakeUploader struct {
	err     error
	uploads int
	lastExt string
}

func (u *fakeUploader) Upload(_ context.Context, _ []byte, _ string, ext string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.uploads++
	u.lastExt = ext
	return fmt.Sprintf("https://storage.example.com/generated-images/generated/%d.%s", u.uploads, ext), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events map[string][]interface{}
}

func (p *fakePublisher) Publish(requestID string, event interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[string][]interface{}{}
	}
	p.events[requestID] = append(p.events[requestID], event)
}

// balanceStore - credit.BalanceStore 메모리 구현
type balanceStore struct {
	mu           sync.Mutex
	balances     map[string]model.CreditBalance
	transactions []model.CreditTransaction
	reservations map[string]model.CreditReservation
	reserved     int
}

func newBalanceStore(balances ...model.CreditBalance) *balanceStore {
	s := &balanceStore{
		balances:     map[string]model.CreditBalance{},
		reservations: map[string]model.CreditReservation{},
	}
	for _, b := range balances {
		s.balances[b.UserID] = b
	}
	return s
}

func (s *balanceStore) GetBalance(_ context.Context, userID string) (*model.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return nil, credit.ErrNoBalance
	}
	return &b, nil
}

func (s *balanceStore) SwapBalance(_ context.Context, expected, next model.CreditBalance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.balances[expected.UserID]
	if cur.UsedCredits != expected.UsedCredits || cur.ReservedCredits != expected.ReservedCredits || cur.TotalCredits != expected.TotalCredits {
		return false, nil
	}
	next.RemainingCredits = next.TotalCredits - next.UsedCredits
	s.balances[expected.UserID] = next
	return true, nil
}

func (s *balanceStore) InsertTransaction(_ context.Context, tx *model.CreditTransaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, *tx)
	return fmt.Sprintf("tx-%d", len(s.transactions)), nil
}

func (s *balanceStore) InsertReservation(_ context.Context, r *model.CreditReservation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved++
	id := fmt.Sprintf("res-%d", s.reserved)
	rec := *r
	rec.ID = id
	s.reservations[id] = rec
	return id, nil
}

func (s *balanceStore) DeleteReservation(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[id]; !ok {
		return false, nil
	}
	delete(s.reservations, id)
	return true, nil
}

func (s *balanceStore) ListExpiredReservations(_ context.Context, before time.Time, limit int) ([]model.CreditReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CreditReservation
	for _, r := range s.reservations {
		if !r.ExpiresAt.After(before) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *balanceStore) balance(userID string) model.CreditBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

// harness - 실제 Invoker/Ledger + 가짜 포트
type harness struct {
	refs      *fakeReferenceStore
	profiles  *fakeProfiles
	records   *fakeRecords
	fetcher   *fakeFetcher
	model     *fakeModel
	uploader  *fakeUploader
	balances  *balanceStore
	publisher *fakePublisher
	opts      Options
}

func newHarness() *harness {
	return &harness{
		refs:      newFakeReferenceStore(),
		profiles:  &fakeProfiles{profiles: map[string]*model.BusinessProfile{}},
		records:   &fakeRecords{},
		fetcher:   &fakeFetcher{failing: map[string]bool{}},
		model:     &fakeModel{},
		uploader:  &fakeUploader{},
		balances:  newBalanceStore(),
		publisher: &fakePublisher{},
		opts:      Options{ImagePrice: 5, ReferenceWorkingSet: 5},
	}
}

func (h *harness) service() *Service {
	invoker := gemini.NewInvoker(h.model, nil, gemini.InvokerConfig{
		MaxAttempts:      3,
		TransientRetries: 1,
		AttemptTimeout:   time.Second,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
	})
	return NewService(Dependencies{
		References: h.refs,
		Profiles:   h.profiles,
		Records:    h.records,
		Fetcher:    h.fetcher,
		Invoker:    invoker,
		Uploader:   h.uploader,
		Ledger:     credit.NewLedger(h.balances),
		Progress:   h.publisher,
	}, h.opts)
}

// analyzed - 분석 결과가 있는 레퍼런스 이미지
func analyzed(id string, created int, tags ...string) model.ReferenceImage {
	list := make([]interface{}, len(tags))
	for i, t := range tags {
		list[i] = t
	}
	return model.ReferenceImage{
		ID:             id,
		DatasetID:      datasetID,
		ImageURL:       "https://cdn.example.com/" + id + ".jpg",
		AnalysisResult: map[string]interface{}{"tags": list},
		CreatedAt:      time.Date(2025, 6, 1, 0, created, 0, 0, time.UTC),
	}
}
