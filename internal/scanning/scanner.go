package scanning

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativePrice is returned when the model reports a line with a price below zero
	ErrNegativePrice = errors.New("negative price")
	// ErrUnreadableImage is returned when an upload cannot be decoded into an image
	ErrUnreadableImage = errors.New("unreadable image")
)

// LineItem is a single named, priced line read off a bill
type LineItem struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// BillData contains the lines extracted from a bill
type BillData struct {
	Items      []LineItem `json:"items"`
	SharedFees []LineItem `json:"sharedFees"`
}

// Scanner defines the interface for bill scanning operations
type Scanner interface {
	// ScanBill analyzes a bill image/PDF and extracts its items and shared fees
	ScanBill(ctx context.Context, imageData []byte, contentType string) (*BillData, error)
	// Close closes the scanner and releases resources
	Close() error
}
