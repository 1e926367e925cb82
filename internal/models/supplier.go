package models

import "fmt"

// VerificationStatus is the lifecycle of a supplier's registry verification.
type VerificationStatus string

const (
	VerificationNotStarted VerificationStatus = "not_started"
	VerificationInProgress VerificationStatus = "in_progress"
	VerificationCompleted  VerificationStatus = "completed"
	VerificationFailed     VerificationStatus = "failed"
)

// Category groups suppliers by product line.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// LogisticsCompany is a carrier a supplier ships with.
type LogisticsCompany struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Site        string `json:"site"`
	Description string `json:"description,omitempty"`
}

// SourceSnapshot is the result of one registry lookup (FSSP, RNP, EGRUL,
// license databases, ...). Payload is left opaque.
type SourceSnapshot struct {
	Status  string         `json:"status"` // ok, warning, error, unknown
	Score   *float64       `json:"score"`
	Details string         `json:"details,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// VerificationCheck is one server-side aggregation of registry checks.
type VerificationCheck struct {
	ID             int                       `json:"id"`
	Supplier       int                       `json:"supplier"`
	Country        string                    `json:"country"`
	Status         VerificationStatus        `json:"status"`
	FSSPScore      *float64                  `json:"fssp_score"`
	RNPScore       *float64                  `json:"rnp_score"`
	EGRULScore     *float64                  `json:"egrul_score"`
	LicensesScore  *float64                  `json:"licenses_score"`
	OverallScore   *float64                  `json:"overall_score"`
	IsVerified     bool                      `json:"is_verified"`
	RiskLevel      *string                   `json:"risk_level"` // low, medium, high or null
	ErrorMessage   *string                   `json:"error_message,omitempty"`
	CheckedSources map[string]SourceSnapshot `json:"checked_sources"`
	StartedAt      *string                   `json:"started_at"`
	CompletedAt    *string                   `json:"completed_at"`
	CreatedAt      string                    `json:"created_at"`
	UpdatedAt      string                    `json:"updated_at"`
}

// Supplier is a marketplace supplier as listed by the supplier directory.
type Supplier struct {
	ID                 int                `json:"id"`
	Name               string             `json:"name"`
	Country            string             `json:"country"`
	City               string             `json:"city"`
	Description        string             `json:"description"`
	Logo               *string            `json:"logo,omitempty"`
	LogoURL            *string            `json:"logo_url,omitempty"`
	VideoURL           *string            `json:"video_url,omitempty"`
	MOQ                int                `json:"moq"`
	ContactEmail       *string            `json:"contact_email,omitempty"`
	ContactPhone       *string            `json:"contact_phone,omitempty"`
	Category           *Category          `json:"category"`
	LogisticsOptions   []LogisticsCompany `json:"logistics_options"`
	CreatedAt          string             `json:"created_at"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerificationScore  *float64           `json:"verification_score,omitempty"`
	IsVerified         bool               `json:"is_verified"`
	LastVerifiedAt     *string            `json:"last_verified_at,omitempty"`
	LatestCheck        *VerificationCheck `json:"latest_check,omitempty"`
}

// CategoryName returns the category name or "-" when uncategorised.
func (s Supplier) CategoryName() string {
	if s.Category == nil || s.Category.Name == "" {
		return "-"
	}
	return s.Category.Name
}

// Badge renders the verification badge shown next to a supplier.
func (s Supplier) Badge() string {
	switch s.VerificationStatus {
	case VerificationCompleted:
		if !s.IsVerified {
			return "not verified"
		}
		if s.VerificationScore != nil {
			return fmt.Sprintf("verified (%.0f)", *s.VerificationScore)
		}
		return "verified"
	case VerificationInProgress:
		return "checking"
	case VerificationFailed:
		return "check failed"
	default:
		return "unchecked"
	}
}

// SupplierFilters are the optional list filters accepted by the supplier
// directory. Zero values are omitted from the query string.
type SupplierFilters struct {
	Search   string `url:"search,omitempty"`
	Country  string `url:"country,omitempty"`
	Category string `url:"category__slug,omitempty"`
	Page     int    `url:"page,omitempty"`
}

// Contacts is the contact detail lookup result for a supplier.
type Contacts struct {
	Email string `json:"contact_email"`
	Phone string `json:"contact_phone"`
}

// VerificationTask is the handle returned when verification is triggered.
type VerificationTask struct {
	TaskID string             `json:"task_id"`
	Status VerificationStatus `json:"status,omitempty"`
}
