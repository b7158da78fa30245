package bill

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/bill-splitter/internal/scanning"
	"github.com/zombor/bill-splitter/internal/settlement"
)

// IDGenerator generates unique IDs for bills
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service owns bills: it scans uploads into new bills and applies every
// participant and assignment change
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with uuid IDs and the wall clock
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ScanBill stores an uploaded bill, extracts its lines and saves a new bill
// waiting for participants
func (s *Service) ScanBill(ctx context.Context, filename string, data []byte, contentType string) (*Bill, error) {
	contentType = resolveContentType(filename, contentType)
	if !scanning.IsSupportedContentType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, contentType)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	scanned, err := s.scanner.ScanBill(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan bill",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeFile(savedPath)
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	if len(scanned.Items) == 0 {
		slog.Warn("Scan returned no items", "filename", filename, "shared_fees", len(scanned.SharedFees))
		s.removeFile(savedPath)
		return nil, ErrNoItems
	}

	b := &Bill{
		ID:           id,
		Filename:     savedPath,
		ContentType:  contentType,
		Items:        make([]settlement.Item, 0, len(scanned.Items)),
		SharedFees:   make([]settlement.SharedFee, 0, len(scanned.SharedFees)),
		Participants: []settlement.Participant{},
		Step:         StepParticipants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, line := range scanned.Items {
		b.Items = append(b.Items, settlement.Item{
			ID:         i + 1,
			Name:       line.Name,
			Price:      line.Price.InexactFloat64(),
			AssignedTo: settlement.NewParticipantSet(),
		})
	}
	for i, line := range scanned.SharedFees {
		b.SharedFees = append(b.SharedFees, settlement.SharedFee{
			ID:    i + 1,
			Name:  line.Name,
			Price: line.Price.InexactFloat64(),
		})
	}

	if err := s.db.SaveBill(b); err != nil {
		s.removeFile(savedPath)
		return nil, fmt.Errorf("saving bill to database: %w", err)
	}

	slog.Info("Bill scanned", "id", id, "items", len(b.Items), "shared_fees", len(b.SharedFees))
	return b, nil
}

// GetBill retrieves a bill by ID
func (s *Service) GetBill(id string) (*Bill, error) {
	b, err := s.db.GetBill(id)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	return b, nil
}

// ListBills returns all bills
func (s *Service) ListBills() ([]*Bill, error) {
	bills, err := s.db.ListBills()
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	return bills, nil
}

// DeleteBill removes a bill and its uploaded file
func (s *Service) DeleteBill(id string) error {
	b, err := s.db.GetBill(id)
	if err != nil {
		return fmt.Errorf("getting bill for deletion: %w", err)
	}

	if err := s.storage.Delete(b.Filename); err != nil {
		slog.Warn("Failed to delete file", "filename", b.Filename, "error", err)
	}

	if err := s.db.DeleteBill(id); err != nil {
		return fmt.Errorf("deleting bill from database: %w", err)
	}
	return nil
}

// GetBillFile retrieves the uploaded file for a bill
func (s *Service) GetBillFile(id string) ([]byte, string, error) {
	b, err := s.db.GetBill(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill: %w", err)
	}

	data, err := s.storage.Get(b.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill file: %w", err)
	}
	return data, b.ContentType, nil
}

// AddParticipant adds a named participant to a bill
func (s *Service) AddParticipant(billID, name string) (settlement.Participant, error) {
	var added settlement.Participant
	_, err := s.update(billID, func(b *Bill) error {
		var err error
		added, err = b.AddParticipant(name)
		return err
	})
	if err != nil {
		return settlement.Participant{}, fmt.Errorf("adding participant: %w", err)
	}
	return added, nil
}

// RemoveParticipant removes a participant and their assignments from a bill
func (s *Service) RemoveParticipant(billID string, participantID int) error {
	_, err := s.update(billID, func(b *Bill) error {
		return b.RemoveParticipant(participantID)
	})
	if err != nil {
		return fmt.Errorf("removing participant: %w", err)
	}
	return nil
}

// ToggleAssignment flips whether a participant shares an item
func (s *Service) ToggleAssignment(billID string, itemID, participantID int) (bool, error) {
	var assigned bool
	_, err := s.update(billID, func(b *Bill) error {
		var err error
		assigned, err = b.ToggleAssignment(itemID, participantID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("toggling assignment: %w", err)
	}
	return assigned, nil
}

// MoveTo changes the workflow step of a bill
func (s *Service) MoveTo(billID string, step Step) (*Bill, error) {
	b, err := s.update(billID, func(b *Bill) error {
		return b.MoveTo(step)
	})
	if err != nil {
		return nil, fmt.Errorf("moving to step %q: %w", step, err)
	}
	return b, nil
}

// Settle computes the settlement for a bill's current state
func (s *Service) Settle(billID string) (settlement.Result, error) {
	b, err := s.db.GetBill(billID)
	if err != nil {
		return settlement.Result{}, fmt.Errorf("getting bill: %w", err)
	}
	return b.Settle(), nil
}

// Summary renders the settlement of a bill as shareable text
func (s *Service) Summary(billID string) (string, error) {
	result, err := s.Settle(billID)
	if err != nil {
		return "", err
	}
	return FormatSummary(result), nil
}

func (s *Service) update(billID string, fn func(*Bill) error) (*Bill, error) {
	return s.db.UpdateBill(billID, func(b *Bill) error {
		if err := fn(b); err != nil {
			return err
		}
		b.UpdatedAt = s.timeSource.Now()
		return nil
	})
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to clean up file", "filename", path, "error", err)
	}
}

// resolveContentType falls back to the file extension when the client sent
// no useful MIME type
func resolveContentType(filename, contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
		return contentType
	}
}
