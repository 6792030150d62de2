package application

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

var allowedConsentContentTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
}

// UploadConsentDocument stores a signed consent form. The returned document
// id is what a consent.signed event carries as consent_document_ref.
func (s *Service) UploadConsentDocument(ctx context.Context, actor Actor, input UploadConsentInput) (domain.ConsentDocument, error) {
	if err := s.authorize(ctx, actor, ActionConsentUpload); err != nil {
		return domain.ConsentDocument{}, err
	}
	kind := domain.ConsentKind(strings.TrimSpace(input.Kind))
	if !kind.Valid() {
		return domain.ConsentDocument{}, fmt.Errorf("%w: unknown consent kind %q", domain.ErrInvalidInput, input.Kind)
	}
	contentType := strings.ToLower(strings.TrimSpace(input.ContentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	ext, ok := allowedConsentContentTypes[contentType]
	if !ok {
		return domain.ConsentDocument{}, fmt.Errorf("%w: unsupported content type %q", domain.ErrInvalidInput, input.ContentType)
	}
	if input.Body == nil {
		return domain.ConsentDocument{}, fmt.Errorf("%w: document body is required", domain.ErrInvalidInput)
	}
	if s.files == nil {
		return domain.ConsentDocument{}, fmt.Errorf("%w: file storage is not configured", domain.ErrDependencyUnavailable)
	}

	request := struct {
		PatientID   string `json:"patient_id"`
		EpisodeID   string `json:"episode_id"`
		Kind        string `json:"kind"`
		ContentType string `json:"content_type"`
	}{strings.TrimSpace(input.PatientID), strings.TrimSpace(input.EpisodeID), string(kind), contentType}
	return runIdempotent(ctx, s, actor, "upload_consent_document", request, func() (domain.ConsentDocument, error) {
		return s.storeConsentDocument(ctx, actor, input, kind, contentType, ext)
	})
}

func (s *Service) storeConsentDocument(ctx context.Context, actor Actor, input UploadConsentInput, kind domain.ConsentKind, contentType, ext string) (domain.ConsentDocument, error) {
	patient, err := s.patients().get(ctx, strings.TrimSpace(input.PatientID))
	if err != nil {
		return domain.ConsentDocument{}, err
	}
	if patient.Archived {
		return domain.ConsentDocument{}, fmt.Errorf("%w: patient is archived", domain.ErrConflict)
	}
	episodeID := strings.TrimSpace(input.EpisodeID)
	if episodeID != "" {
		ep, err := s.episodes.Get(ctx, episodeID)
		if err != nil {
			return domain.ConsentDocument{}, err
		}
		if ep.PatientID != patient.PatientID {
			return domain.ConsentDocument{}, fmt.Errorf("%w: episode belongs to another patient", domain.ErrInvalidInput)
		}
	}

	documentID := uuid.NewString()
	key := fmt.Sprintf("consents/%s/%s%s", patient.PatientID, documentID, ext)
	body := &limitedReader{r: input.Body, remaining: s.cfg.MaxConsentBytes}
	ref, err := s.files.Put(ctx, key, contentType, body)
	if body.exceeded {
		return domain.ConsentDocument{}, fmt.Errorf("%w: document exceeds %d bytes", domain.ErrInvalidInput, s.cfg.MaxConsentBytes)
	}
	if err != nil {
		return domain.ConsentDocument{}, fmt.Errorf("%w: store consent document: %v", domain.ErrStorageUnavailable, err)
	}
	if ref.SizeBytes == 0 {
		return domain.ConsentDocument{}, fmt.Errorf("%w: document is empty", domain.ErrInvalidInput)
	}

	now := s.nowFn()
	doc := domain.ConsentDocument{
		DocumentID:  documentID,
		PatientID:   patient.PatientID,
		EpisodeID:   episodeID,
		Kind:        string(kind),
		FileKey:     ref.Key,
		ContentType: ref.ContentType,
		SizeBytes:   ref.SizeBytes,
		SHA256:      ref.SHA256,
		UploadedBy:  actor.SubjectID,
		UploadedAt:  now,
	}
	if err := s.consentDocuments().put(ctx, doc.DocumentID, doc, now); err != nil {
		return domain.ConsentDocument{}, err
	}
	s.logger.InfoContext(ctx, "consent document stored",
		"operation", "upload_consent_document",
		"outcome", "success",
		"document_id", doc.DocumentID,
		"patient_id", doc.PatientID,
		"kind", doc.Kind,
		"size_bytes", doc.SizeBytes,
	)
	return doc, nil
}

func (s *Service) ListConsentDocuments(ctx context.Context, actor Actor, filter ConsentDocumentFilter) ([]domain.ConsentDocument, error) {
	if err := s.authorize(ctx, actor, ActionPatientRead); err != nil {
		return nil, err
	}
	where := map[string]string{}
	if filter.PatientID != "" {
		where["patient_id"] = filter.PatientID
	}
	if filter.EpisodeID != "" {
		where["episode_id"] = filter.EpisodeID
	}
	return s.consentDocuments().list(ctx, where, "uploaded_at", s.clampLimit(filter.Limit), filter.Offset)
}

// limitedReader fails the read once more than remaining bytes are requested.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		l.exceeded = true
		return 0, errConsentTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, errConsentTooLarge
	}
	return n, err
}

var errConsentTooLarge = fmt.Errorf("%w: document too large", domain.ErrInvalidInput)
