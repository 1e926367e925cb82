package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a decimal money value that the API sends as a JSON number, a
// numeric string, or null.
type Amount struct {
	Value float64
	Valid bool
}

// NewAmount returns a valid Amount.
func NewAmount(v float64) Amount { return Amount{Value: v, Valid: true} }

// UnmarshalJSON accepts numbers, numeric strings, empty strings and null.
// Non-numeric strings decode as an invalid Amount rather than an error.
func (a *Amount) UnmarshalJSON(data []byte) error {
	*a = Amount{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		*a = NewAmount(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = NewAmount(v)
	return nil
}

// MarshalJSON writes a number, or null when the amount is unset.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(a.Value, 'f', -1, 64)), nil
}

// Order is a buyer's purchase request.
type Order struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	CategoryName string `json:"category_name"`
	BuyerEmail   string `json:"buyer_email"`
	BudgetMin    Amount `json:"budget_min"`
	BudgetMax    Amount `json:"budget_max"`
	Region       string `json:"region"`
	Deadline     string `json:"deadline"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	IsUrgent     bool   `json:"is_urgent"`
	OffersCount  int    `json:"offers_count"`
}

// ErrInvalidInput marks form validation failures.
var ErrInvalidInput = errors.New("invalid input")

// OrderInput is the body of a create-order request.
type OrderInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	BudgetMin   Amount `json:"budget_min"`
	BudgetMax   Amount `json:"budget_max"`
	Region      string `json:"region,omitempty"`
	Deadline    string `json:"deadline,omitempty"` // YYYY-MM-DD
	Category    *int   `json:"category,omitempty"`
}

// Validate checks the fields the order form requires.
func (in OrderInput) Validate() error {
	var errs []string
	if strings.TrimSpace(in.Title) == "" {
		errs = append(errs, "title is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		errs = append(errs, "description is required")
	}
	if in.BudgetMin.Valid && in.BudgetMin.Value < 0 {
		errs = append(errs, "budget_min must not be negative")
	}
	if in.BudgetMin.Valid && in.BudgetMax.Valid && in.BudgetMin.Value > in.BudgetMax.Value {
		errs = append(errs, "budget_min must not exceed budget_max")
	}
	if len(errs) > 0 {
		return fmt.Errorf("order: %w: %s", ErrInvalidInput, strings.Join(errs, "; "))
	}
	return nil
}

// Offer is a supplier's response to an order.
type Offer struct {
	ID            int    `json:"id"`
	Price         Amount `json:"price"`
	DeliveryDays  int    `json:"delivery_days"`
	Comment       string `json:"comment,omitempty"`
	SupplierEmail string `json:"supplier_email"`
	SupplierID    int    `json:"supplier_id"`
	CreatedAt     string `json:"created_at"`
	IsSelected    bool   `json:"is_selected"`
}

// OfferInput is the body of a create-offer request.
type OfferInput struct {
	Price        Amount `json:"price"`
	DeliveryDays int    `json:"delivery_days"`
	Comment      string `json:"comment,omitempty"`
}

// Validate checks the offer fields.
func (in OfferInput) Validate() error {
	if !in.Price.Valid || in.Price.Value <= 0 {
		return fmt.Errorf("offer: %w: price must be positive", ErrInvalidInput)
	}
	if in.DeliveryDays <= 0 {
		return fmt.Errorf("offer: %w: delivery_days must be positive", ErrInvalidInput)
	}
	return nil
}

// FormatBudget renders an order budget range.
func FormatBudget(min, max Amount) string {
	switch {
	case !min.Valid && !max.Valid:
		return "budget not set"
	case min.Valid && max.Valid:
		return fmt.Sprintf("%s – %s ₽", groupThousands(min.Value), groupThousands(max.Value))
	case min.Valid:
		return fmt.Sprintf("from %s ₽", groupThousands(min.Value))
	default:
		return fmt.Sprintf("up to %s ₽", groupThousands(max.Value))
	}
}

// FormatAmount renders a single price, or "-" when unset.
func FormatAmount(a Amount) string {
	if !a.Valid {
		return "-"
	}
	return groupThousands(a.Value) + " ₽"
}

// groupThousands formats v with space-separated thousands and at most two
// decimals (e.g. 1250000.5 -> "1 250 000.5").
func groupThousands(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(intPart[i : i+3])
	}
	b.WriteString(frac)
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Page is a normalized list response.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// DecodePage accepts either a bare JSON array or a paginated envelope.
func DecodePage[T any](data []byte) (Page[T], error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return Page[T]{}, err
		}
		return Page[T]{Count: len(items), Results: items}, nil
	}
	var p Page[T]
	if err := json.Unmarshal(data, &p); err != nil {
		return Page[T]{}, err
	}
	if p.Results == nil {
		p.Results = []T{}
	}
	return p, nil
}
