package generation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"brand-canvas-server/modules/common/credit"
	"brand-canvas-server/modules/common/database"
	"brand-canvas-server/modules/common/gemini"
	"brand-canvas-server/modules/common/model"
	"brand-canvas-server/modules/common/storage"
	"brand-canvas-server/modules/common/utils"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ProfileStore - business_profiles 조회
type ProfileStore interface {
	GetBusinessProfile(ctx context.Context, userID string) (*model.BusinessProfile, error)
}

// RecordStore - generations 테이블
type RecordStore interface {
	CreateGeneration(ctx context.Context, record *model.GenerationRecord) (*model.GenerationRecord, error)
	ListGenerations(ctx context.Context, filter model.GenerationFilter, limit, offset int) (*model.GenerationPage, error)
	GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error)
}

type BlobFetcher interface {
	FetchAll(ctx context.Context, urls []string) []storage.Blob
}

type ImageUploader interface {
	Upload(ctx context.Context, data []byte, contentType, ext string) (string, error)
}

type ImageInvoker interface {
	Invoke(ctx context.Context, req gemini.InvokeRequest, observe gemini.Observer) (*gemini.InvokeResult, error)
}

type CreditLedger interface {
	Reserve(ctx context.Context, userID string, cost int) (*credit.Reservation, error)
	Commit(ctx context.Context, r *credit.Reservation, description string, metadata map[string]interface{}) (string, error)
	Release(ctx context.Context, r *credit.Reservation) error
}

// Publisher - request_id 별 진행 상황 push (websocket hub)
type Publisher interface {
	Publish(requestID string, event interface{})
}

// Dependencies - Service 포트 묶음
type Dependencies struct {
	References ReferenceStore
	Profiles   ProfileStore
	Records    RecordStore
	Fetcher    BlobFetcher
	Invoker    ImageInvoker
	Uploader   ImageUploader
	Ledger     CreditLedger
	Progress   Publisher
}

type Options struct {
	ImagePrice              int
	ReferenceWorkingSet     int
	WebPQuality             float32
	HistoryAnonymousVisible bool
}

type Service struct {
	deps     Dependencies
	selector *Selector
	opts     Options
}

// StatusEvent - 생성 완료/실패 알림
type StatusEvent struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	EventCompleted = "completed"
	EventFailed    = "failed"
)

func NewService(deps Dependencies, opts Options) *Service {
	if deps.Progress == nil {
		deps.Progress = noopPublisher{}
	}
	if opts.WebPQuality <= 0 {
		opts.WebPQuality = 90
	}
	return &Service{
		deps:     deps,
		selector: NewSelector(deps.References, opts.ReferenceWorkingSet),
		opts:     opts,
	}
}

// Generate - 크레딧 예약 → 레퍼런스 선택 → 프롬프트 구성 → 모델 호출 → 업로드 → 차감 → 기록
func (s *Service) Generate(ctx context.Context, userID string, req GenerateRequest) (resp *GenerateResponse, err error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	n := req.normalize()

	log := logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"dataset_id": n.DatasetID,
		"request_id": n.RequestID,
	})

	reservation, err := s.deps.Ledger.Reserve(ctx, userID, s.opts.ImagePrice)
	if err != nil {
		return nil, err
	}
	charged := false
	defer func() {
		if charged {
			return
		}
		// 요청이 취소돼도 예약은 반드시 해제
		if releaseErr := s.deps.Ledger.Release(context.WithoutCancel(ctx), reservation); releaseErr != nil {
			log.WithError(releaseErr).Error("❌ [Generation] Failed to release credit reservation")
		}
	}()
	defer func() {
		if err != nil {
			s.deps.Progress.Publish(n.RequestID, StatusEvent{Type: EventFailed, Error: err.Error()})
		}
	}()

	business := s.businessContext(ctx, userID)
	dataset := s.dataset(ctx, n.DatasetID)

	var selected []model.ReferenceImage
	switch {
	case dataset != nil:
		selected = s.selector.Select(ctx, dataset.ID, n.Prompt, joinStyles(n.Style, n.ImageStyle), n.ReferenceCount)
	case n.DatasetID == "" && isUUID(n.EnvironmentID):
		selected = s.selector.SelectFromEnvironment(ctx, n.EnvironmentID, n.Prompt, joinStyles(n.Style, n.ImageStyle), n.ReferenceCount)
	}

	elements := Extract(selected)

	urls := make([]string, 0, len(selected))
	for _, img := range selected {
		urls = append(urls, img.ImageURL)
	}
	var references []gemini.ImagePart
	if len(urls) > 0 {
		for _, blob := range s.deps.Fetcher.FetchAll(ctx, urls) {
			references = append(references, gemini.ImagePart{Data: blob.Data, MIMEType: blob.MIMEType})
		}
	}

	input := PromptInput{
		Business:     business,
		MasterPrompt: dataset.MasterPromptText(),
		Elements:     elements,
		Scene:        n.Prompt,
		Style:        joinStyles(n.Style, n.ImageStyle),
	}
	buildPrompt := func(refs int) string {
		in := input
		in.References = refs
		return Compose(in)
	}

	log.WithFields(logrus.Fields{
		"selected":   len(selected),
		"references": len(references),
		"elements":   len(elements.Elements),
	}).Info("🎨 [Generation] Context assembled")

	result, err := s.deps.Invoker.Invoke(ctx, gemini.InvokeRequest{
		BuildPrompt: buildPrompt,
		References:  references,
		AspectRatio: n.AspectRatio,
		ImageSize:   n.Resolution,
	}, func(e gemini.AttemptEvent) {
		s.deps.Progress.Publish(n.RequestID, e)
	})
	if err != nil {
		log.WithError(err).Error("❌ [Generation] Image generation failed")
		return nil, err
	}

	encoded, err := utils.EncodeOutput(result.Image, n.Format, s.opts.WebPQuality)
	if err != nil {
		return nil, &UploadError{Cause: err}
	}

	imageURL, err := s.deps.Uploader.Upload(ctx, encoded.Data, encoded.ContentType, encoded.Extension)
	if err != nil {
		log.WithError(err).Error("❌ [Generation] Upload failed")
		return nil, &UploadError{Cause: err}
	}

	creditsUsed := 0
	if _, commitErr := s.deps.Ledger.Commit(ctx, reservation, "Image generation", map[string]interface{}{
		"image_url":              imageURL,
		"resolution":             n.Resolution,
		"reference_images_count": result.ReferencesUsed,
		"attempts":               result.Attempts,
	}); commitErr != nil {
		// 이미지는 이미 생성/업로드됨. 차감 실패는 결과를 버릴 이유가 아님
		log.WithError(commitErr).Error("❌ [Generation] Failed to commit credits, reservation will be released")
	} else {
		charged = true
		creditsUsed = reservation.Charged()
	}

	var datasetID, environmentID *string
	if dataset != nil {
		datasetID = model.StrPtr(dataset.ID)
	}
	if isUUID(n.EnvironmentID) {
		environmentID = model.StrPtr(n.EnvironmentID)
	}

	record := &model.GenerationRecord{
		UserID:               model.StrPtr(userID),
		Prompt:               n.Prompt,
		FullPrompt:           result.Prompt,
		ImageURL:             imageURL,
		DatasetID:            datasetID,
		EnvironmentID:        environmentID,
		FolderID:             datasetID,
		Style:                model.StrPtr(joinStyles(n.Style, n.ImageStyle)),
		AspectRatio:          n.AspectRatio,
		Quality:              n.Quality,
		Format:               n.Format,
		Resolution:           n.Resolution,
		ReferenceImagesCount: result.ReferencesUsed,
		UniqueElements:       elements.Elements,
		Attempts:             result.Attempts,
	}
	if len(record.UniqueElements) == 0 {
		record.UniqueElements = nil
	}

	// 저장 실패 시 id 없이 응답, created_at은 현재 시각
	var recordID string
	createdAt := time.Now().UTC()
	saved, createErr := s.deps.Records.CreateGeneration(ctx, record)
	if createErr != nil {
		log.WithError(&PersistenceWarning{Cause: createErr}).Warn("⚠️  [Generation] Persistence warning")
	} else {
		recordID = saved.ID
		if saved.CreatedAt != nil {
			createdAt = saved.CreatedAt.UTC()
		}
	}

	s.deps.Progress.Publish(n.RequestID, StatusEvent{Type: EventCompleted, ImageURL: imageURL})
	log.WithFields(logrus.Fields{
		"generation_id": recordID,
		"attempts":      result.Attempts,
		"references":    result.ReferencesUsed,
		"credits_used":  creditsUsed,
	}).Info("✅ [Generation] Completed")

	return &GenerateResponse{
		Success:              true,
		ID:                   recordID,
		UserID:               record.UserID,
		ImageURL:             imageURL,
		Caption:              n.Prompt,
		Prompt:               n.Prompt,
		FullPrompt:           result.Prompt,
		DatasetID:            record.DatasetID,
		EnvironmentID:        record.EnvironmentID,
		FolderID:             record.FolderID,
		Style:                record.Style,
		AspectRatio:          n.AspectRatio,
		Quality:              n.Quality,
		Format:               n.Format,
		Resolution:           n.Resolution,
		ReferenceImagesCount: result.ReferencesUsed,
		UniqueElements:       elements.Elements,
		Attempts:             result.Attempts,
		CreditsUsed:          creditsUsed,
		CreatedAt:            createdAt,
	}, nil
}

func (s *Service) businessContext(ctx context.Context, userID string) *BusinessContext {
	if userID == "" || s.deps.Profiles == nil {
		return nil
	}
	profile, err := s.deps.Profiles.GetBusinessProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logrus.WithError(err).WithField("user_id", userID).Warn("⚠️  [Generation] Business profile unavailable")
		}
		return nil
	}
	return BusinessContextFrom(profile)
}

func (s *Service) dataset(ctx context.Context, datasetID string) *model.Dataset {
	if datasetID == "" {
		return nil
	}
	if !isUUID(datasetID) {
		logrus.WithField("dataset_id", datasetID).Warn("⚠️  [Generation] Dataset id is not a UUID, continuing text-only")
		return nil
	}
	dataset, err := s.deps.References.GetDataset(ctx, datasetID)
	if err != nil {
		logrus.WithError(err).WithField("dataset_id", datasetID).
			Warn("⚠️  [Generation] Dataset not resolved, continuing text-only")
		return nil
	}
	return dataset
}

// List - 로그인 사용자는 본인 기록만, 익명은 설정에 따라 user_id IS NULL 기록 또는 없음
func (s *Service) List(ctx context.Context, userID, datasetID string, limit, offset int) (*model.GenerationPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		return nil, &ValidationError{Fields: []string{"offset must be >= 0"}}
	}

	if userID == "" && !s.opts.HistoryAnonymousVisible {
		return &model.GenerationPage{Records: []model.GenerationRecord{}, Total: 0, Limit: limit, Offset: offset}, nil
	}

	filter := model.GenerationFilter{DatasetID: datasetID}
	if userID != "" {
		filter.UserID = &userID
	}

	page, err := s.deps.Records.ListGenerations(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	if page.Records == nil {
		page.Records = []model.GenerationRecord{}
	}
	return page, nil
}

// Get - 볼 수 없는 기록은 존재 여부를 드러내지 않고 not found
func (s *Service) Get(ctx context.Context, userID, id string) (*model.GenerationRecord, error) {
	if userID == "" && !s.opts.HistoryAnonymousVisible {
		return nil, ErrRecordNotFound
	}

	record, err := s.deps.Records.GetGeneration(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if userID != "" {
		if record.UserID == nil || *record.UserID != userID {
			return nil, ErrRecordNotFound
		}
		return record, nil
	}
	if record.UserID != nil {
		return nil, ErrRecordNotFound
	}
	return record, nil
}

// isUUID - 테이블 id 형식인지. 아니면 조회 없이 없는 것으로 취급
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}
