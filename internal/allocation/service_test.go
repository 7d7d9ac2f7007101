package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/router-for-me/EnterpriseAccess/internal/assignments"
	"github.com/router-for-me/EnterpriseAccess/internal/clients"
	"github.com/router-for-me/EnterpriseAccess/internal/db"
	"github.com/router-for-me/EnterpriseAccess/internal/lock"
	"github.com/router-for-me/EnterpriseAccess/internal/metrics"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
	"gorm.io/gorm"
)

const testContentKey = "course-v1:edX+Privacy101+3T2020"

type stubLedger struct {
	mu      sync.Mutex
	balance int64
	err     error
}

func (s *stubLedger) GetSubsidy(_ context.Context, subsidyUUID uuid.UUID) (*policy.Subsidy, error) {
	if s.err != nil {
		return nil, s.err
	}
	now := time.Now().UTC()
	return &policy.Subsidy{UUID: subsidyUUID, ActiveDatetime: now.Add(-time.Hour), ExpirationDatetime: now.Add(time.Hour)}, nil
}

func (s *stubLedger) RemainingBalance(context.Context, uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, s.err
}

func (s *stubLedger) PolicyAggregates(context.Context, uuid.UUID, uuid.UUID) (policy.Aggregates, error) {
	return policy.Aggregates{}, nil
}

func (s *stubLedger) LearnerAggregates(context.Context, uuid.UUID, uuid.UUID, int64) (policy.LearnerAggregates, error) {
	return policy.LearnerAggregates{}, nil
}

type stubCatalog struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stubCatalog) ContainsContentKey(context.Context, uuid.UUID, string) (bool, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	return true, nil
}

type stubAdmins struct {
	admins []clients.AdminUser
	err    error
}

func (s *stubAdmins) GetEnterpriseAdminUsers(context.Context, uuid.UUID) ([]clients.AdminUser, error) {
	return s.admins, s.err
}

type fixture struct {
	db      *gorm.DB
	ledger  *stubLedger
	catalog *stubCatalog
	admins  *stubAdmins
	locks   *lock.Manager
	store   *lock.MemoryStore
	service *Service
}

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:allocation_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	f := &fixture{
		db:      conn,
		ledger:  &stubLedger{balance: balance},
		catalog: &stubCatalog{},
		admins:  &stubAdmins{admins: []clients.AdminUser{{Email: "admin@example.com"}}},
		store:   lock.NewMemoryStore(),
	}
	f.locks = lock.NewManager(f.store, time.Minute)
	evaluator := policy.NewEvaluator(f.ledger, f.catalog, nil, assignments.NewAggregator(conn))
	f.service = NewService(conn, f.locks, evaluator, f.admins, metrics.MustNewMetrics(prometheus.NewRegistry()))
	return f
}

func (f *fixture) createPolicy(t *testing.T, spendLimit *int64, active bool) *models.SubsidyAccessPolicy {
	t.Helper()
	cfg := &models.AssignmentConfiguration{UUID: uuid.New(), EnterpriseCustomerUUID: uuid.New(), Active: true}
	if errCreate := f.db.Create(cfg).Error; errCreate != nil {
		t.Fatalf("create configuration: %v", errCreate)
	}
	p := &models.SubsidyAccessPolicy{
		UUID:                        uuid.New(),
		EnterpriseCustomerUUID:      cfg.EnterpriseCustomerUUID,
		Kind:                        models.PolicyKindAssignedLearnerCredit,
		Active:                      true,
		SpendLimit:                  spendLimit,
		SubsidyUUID:                 uuid.New(),
		CatalogUUID:                 uuid.New(),
		AssignmentConfigurationUUID: &cfg.UUID,
	}
	if errCreate := f.db.Create(p).Error; errCreate != nil {
		t.Fatalf("create policy: %v", errCreate)
	}
	if !active {
		if errUpdate := f.db.Model(p).Update("active", false).Error; errUpdate != nil {
			t.Fatalf("deactivate policy: %v", errUpdate)
		}
	}
	return p
}

func (f *fixture) committed(t *testing.T, p *models.SubsidyAccessPolicy) int64 {
	t.Helper()
	agg, err := assignments.NewAggregator(f.db).AggregatesForConfiguration(context.Background(), *p.AssignmentConfigurationUUID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	return agg.TotalQuantity
}

func int64Ptr(v int64) *int64 { return &v }

func TestEvaluateAndAllocateThreeLearners(t *testing.T) {
	f := newFixture(t, 10_000*100)
	p := f.createPolicy(t, int64Ptr(1_000_000), true)
	emails := []string{"alice@example.com", "bob@example.com", "carol@example.com"}

	res, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, emails, testContentKey, 12345)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(res.Created) != 3 {
		t.Fatalf("expected 3 created, got %+v", res)
	}
	if got := f.committed(t, p); got != -37035 {
		t.Fatalf("expected total committed -37035, got %d", got)
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected lock released")
	}
}

func TestEvaluateAndAllocateExactBalanceBoundary(t *testing.T) {
	f := newFixture(t, 300)
	p := f.createPolicy(t, nil, true)
	seed := models.LearnerContentAssignment{
		UUID:                        uuid.New(),
		AssignmentConfigurationUUID: *p.AssignmentConfigurationUUID,
		LearnerEmail:                "seed@example.com",
		ContentKey:                  testContentKey,
		ContentQuantity:             -298,
		State:                       models.AssignmentStateAllocated,
	}
	if errCreate := f.db.Create(&seed).Error; errCreate != nil {
		t.Fatalf("seed assignment: %v", errCreate)
	}

	if _, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"first@example.com"}, testContentKey, 1); err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	if _, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"second@example.com"}, testContentKey, 1); err != nil {
		t.Fatalf("allocation landing on zero remaining should succeed: %v", err)
	}
	if got := f.committed(t, p); got != -300 {
		t.Fatalf("expected committed -300, got %d", got)
	}

	_, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"third@example.com"}, testContentKey, 1)
	var failure *EligibilityFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected EligibilityFailure, got %v", err)
	}
	if failure.Reason != policy.ReasonNotEnoughValueInSubsidy {
		t.Fatalf("expected not_enough_value_in_subsidy, got %s", failure.Reason)
	}
	if got := f.committed(t, p); got != -300 {
		t.Fatalf("denied allocation must not write, committed %d", got)
	}
}

func TestEvaluateAndAllocateInactivePolicy(t *testing.T) {
	f := newFixture(t, 10_000*100)
	p := f.createPolicy(t, nil, false)

	_, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"a@example.com"}, testContentKey, 100)
	var failure *EligibilityFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected EligibilityFailure, got %v", err)
	}
	if failure.Reason != policy.ReasonPolicyExpired {
		t.Fatalf("expected policy_expired, got %s", failure.Reason)
	}
	if failure.PolicyUUID != p.UUID {
		t.Fatalf("expected policy uuid %s, got %s", p.UUID, failure.PolicyUUID)
	}
	if failure.UserMessage != policy.MessageOrganizationNoFunds {
		t.Fatalf("unexpected user message %q", failure.UserMessage)
	}
	if len(failure.AdminContacts) != 1 || failure.AdminContacts[0].Email != "admin@example.com" {
		t.Fatalf("unexpected admin contacts %+v", failure.AdminContacts)
	}
}

func TestEvaluateAndAllocateSpendLimitWithoutAdmins(t *testing.T) {
	f := newFixture(t, 10_000*100)
	f.admins.admins = nil
	p := f.createPolicy(t, int64Ptr(1000), true)

	_, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"a@example.com", "b@example.com"}, testContentKey, 501)
	var failure *EligibilityFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected EligibilityFailure, got %v", err)
	}
	if failure.Reason != policy.ReasonPolicySpendLimitReached {
		t.Fatalf("expected policy_spend_limit_reached, got %s", failure.Reason)
	}
	if failure.UserMessage != policy.MessageOrganizationNoFundsNoAdmins {
		t.Fatalf("expected no-admins message, got %q", failure.UserMessage)
	}
	if failure.AdminContacts == nil || len(failure.AdminContacts) != 0 {
		t.Fatalf("expected empty admin list, got %#v", failure.AdminContacts)
	}
}

func TestEvaluateAndAllocateAdminLookupFailureStillDenies(t *testing.T) {
	f := newFixture(t, 0)
	f.admins.err = errors.New("lms down")
	p := f.createPolicy(t, nil, true)

	_, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"a@example.com"}, testContentKey, 1)
	var failure *EligibilityFailure
	if !errors.As(err, &failure) || failure.Reason != policy.ReasonNotEnoughValueInSubsidy {
		t.Fatalf("expected not_enough_value_in_subsidy, got %v", err)
	}
	if failure.UserMessage != policy.MessageOrganizationNoFundsNoAdmins {
		t.Fatalf("expected no-admins message, got %q", failure.UserMessage)
	}
}

func TestEvaluateAndAllocateLocked(t *testing.T) {
	f := newFixture(t, 10_000*100)
	p := f.createPolicy(t, nil, true)

	token, err := f.locks.Acquire(context.Background(), p.UUID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err = f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"a@example.com"}, testContentKey, 1)
	if !errors.Is(err, lock.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if got := f.committed(t, p); got != 0 {
		t.Fatalf("expected no writes while locked, got %d", got)
	}
	if errRelease := f.locks.Release(context.Background(), p.UUID, token); errRelease != nil {
		t.Fatalf("release: %v", errRelease)
	}
	if _, err = f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"a@example.com"}, testContentKey, 1); err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
}

func TestEvaluateAndAllocateConcurrentRequestFailsFast(t *testing.T) {
	f := newFixture(t, 10_000*100)
	f.catalog.entered = make(chan struct{}, 1)
	f.catalog.release = make(chan struct{})
	p := f.createPolicy(t, nil, true)

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"a@example.com"}, testContentKey, 1)
		firstDone <- err
	}()
	<-f.catalog.entered

	// The first request is parked inside the evaluator holding the lock.
	f.catalog.entered = nil
	started := time.Now()
	_, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"b@example.com"}, testContentKey, 1)
	if !errors.Is(err, lock.ErrLocked) {
		t.Fatalf("expected ErrLocked for concurrent request, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("expected contention to fail fast, took %s", elapsed)
	}

	close(f.catalog.release)
	if errFirst := <-firstDone; errFirst != nil {
		t.Fatalf("first allocation: %v", errFirst)
	}
}

func TestEvaluateAndAllocateUpstreamErrorReleasesLock(t *testing.T) {
	f := newFixture(t, 100)
	upstream := &clients.UpstreamError{Service: "ledger", StatusCode: 503, Err: errors.New("unavailable")}
	f.ledger.err = upstream
	p := f.createPolicy(t, nil, true)

	_, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"a@example.com"}, testContentKey, 1)
	if !errors.Is(err, clients.ErrUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected lock released after upstream failure")
	}
}

func TestEvaluateAndAllocateRequestErrors(t *testing.T) {
	f := newFixture(t, 100)
	p := f.createPolicy(t, nil, true)

	if _, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"a@example.com"}, testContentKey, -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative price, got %v", err)
	}
	if _, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, nil, testContentKey, 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty emails, got %v", err)
	}
	if _, err := f.service.EvaluateAndAllocate(context.Background(), p.UUID, []string{"not-an-email"}, testContentKey, 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad email, got %v", err)
	}
	if _, err := f.service.EvaluateAndAllocate(context.Background(), uuid.New(), []string{"a@example.com"}, testContentKey, 1); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}

	spend := &models.SubsidyAccessPolicy{
		UUID:        uuid.New(),
		Kind:        models.PolicyKindPerLearnerSpendCredit,
		Active:      true,
		SubsidyUUID: uuid.New(),
		CatalogUUID: uuid.New(),
	}
	if errCreate := f.db.Create(spend).Error; errCreate != nil {
		t.Fatalf("create policy: %v", errCreate)
	}
	if _, err := f.service.EvaluateAndAllocate(context.Background(), spend.UUID, []string{"a@example.com"}, testContentKey, 1); !errors.Is(err, ErrNotAllocatable) {
		t.Fatalf("expected ErrNotAllocatable, got %v", err)
	}
}

func TestValidateRequestDeduplicatesInOrder(t *testing.T) {
	got, err := ValidateRequest([]string{"b@example.com", " a@example.com ", "b@example.com"}, testContentKey, 0)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(got) != 2 || got[0] != "b@example.com" || got[1] != "a@example.com" {
		t.Fatalf("unexpected emails %v", got)
	}
}
