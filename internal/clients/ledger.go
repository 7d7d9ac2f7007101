package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
)

// LedgerClient talks to the subsidy ledger service.
type LedgerClient struct {
	http *jsonClient
}

// NewLedgerClient constructs a LedgerClient.
func NewLedgerClient(opts Options) (*LedgerClient, error) {
	c, err := newJSONClient("ledger", opts)
	if err != nil {
		return nil, err
	}
	return &LedgerClient{http: c}, nil
}

type subsidyDTO struct {
	UUID               uuid.UUID `json:"uuid"`
	Title              string    `json:"title"`
	ActiveDatetime     time.Time `json:"active_datetime"`
	ExpirationDatetime time.Time `json:"expiration_datetime"`
	CurrentBalance     int64     `json:"current_balance"`
}

type transactionAggregatesDTO struct {
	Count      int `json:"count"`
	Aggregates struct {
		TotalQuantity int64 `json:"total_quantity"`
	} `json:"aggregates"`
}

// Transaction is a ledger transaction created by a redemption.
type Transaction struct {
	UUID     uuid.UUID `json:"uuid"`
	State    string    `json:"state"`
	Quantity int64     `json:"quantity"`
}

// CommitRequest describes a redemption to record on the ledger.
type CommitRequest struct {
	SubsidyUUID    uuid.UUID `json:"-"`
	PolicyUUID     uuid.UUID `json:"subsidy_access_policy_uuid"`
	LearnerEmail   string    `json:"learner_email,omitempty"`
	LMSUserID      int64     `json:"lms_user_id,omitempty"`
	ContentKey     string    `json:"content_key"`
	Quantity       int64     `json:"quantity"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func subsidyPath(subsidyUUID uuid.UUID) string {
	return "/api/v2/subsidies/" + subsidyUUID.String() + "/"
}

// GetSubsidy returns the subsidy record.
func (c *LedgerClient) GetSubsidy(ctx context.Context, subsidyUUID uuid.UUID) (*policy.Subsidy, error) {
	var dto subsidyDTO
	if err := c.http.do(ctx, http.MethodGet, subsidyPath(subsidyUUID), nil, nil, &dto); err != nil {
		return nil, err
	}
	return &policy.Subsidy{
		UUID:               dto.UUID,
		Title:              dto.Title,
		ActiveDatetime:     dto.ActiveDatetime,
		ExpirationDatetime: dto.ExpirationDatetime,
		CurrentBalance:     dto.CurrentBalance,
	}, nil
}

// RemainingBalance returns the subsidy's current balance in cents.
func (c *LedgerClient) RemainingBalance(ctx context.Context, subsidyUUID uuid.UUID) (int64, error) {
	subsidy, err := c.GetSubsidy(ctx, subsidyUUID)
	if err != nil {
		return 0, err
	}
	return subsidy.CurrentBalance, nil
}

func (c *LedgerClient) transactionAggregates(ctx context.Context, subsidyUUID uuid.UUID, query url.Values) (transactionAggregatesDTO, error) {
	query.Set("include_aggregates", "true")
	query.Set("page_size", "1")
	var dto transactionAggregatesDTO
	err := c.http.do(ctx, http.MethodGet, subsidyPath(subsidyUUID)+"admin/transactions/", query, nil, &dto)
	return dto, err
}

// PolicyAggregates sums the ledger transactions redeemed through a policy.
// Ledger spend is already reflected in the balance, so nothing is pending.
func (c *LedgerClient) PolicyAggregates(ctx context.Context, subsidyUUID, policyUUID uuid.UUID) (policy.Aggregates, error) {
	query := url.Values{}
	query.Set("subsidy_access_policy_uuid", policyUUID.String())
	dto, err := c.transactionAggregates(ctx, subsidyUUID, query)
	if err != nil {
		return policy.Aggregates{}, err
	}
	return policy.Aggregates{TotalQuantity: dto.Aggregates.TotalQuantity}, nil
}

// LearnerAggregates sums one learner's ledger transactions through a policy.
func (c *LedgerClient) LearnerAggregates(ctx context.Context, subsidyUUID, policyUUID uuid.UUID, lmsUserID int64) (policy.LearnerAggregates, error) {
	query := url.Values{}
	query.Set("subsidy_access_policy_uuid", policyUUID.String())
	query.Set("lms_user_id", strconv.FormatInt(lmsUserID, 10))
	dto, err := c.transactionAggregates(ctx, subsidyUUID, query)
	if err != nil {
		return policy.LearnerAggregates{}, err
	}
	return policy.LearnerAggregates{TotalQuantity: dto.Aggregates.TotalQuantity, EnrollmentCount: dto.Count}, nil
}

// CommitTransaction records a redemption on the ledger.
func (c *LedgerClient) CommitTransaction(ctx context.Context, req CommitRequest) (Transaction, error) {
	if req.IdempotencyKey == "" {
		return Transaction{}, fmt.Errorf("clients: ledger commit requires an idempotency key")
	}
	var tx Transaction
	if err := c.http.do(ctx, http.MethodPost, subsidyPath(req.SubsidyUUID)+"admin/transactions/", nil, req, &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}
