package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ecoswap/internal/domain"
	"ecoswap/internal/matching"
	"ecoswap/internal/metrics"
	"ecoswap/internal/repository"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"
)

var errNotMatched = errors.New("match not final yet")

// RetryPolicy bounds how long TrySettle waits for the matching service to
// report a final state. Multiplier <= 1 means a fixed delay.
type RetryPolicy struct {
	MaxAttempts uint
	Delay       time.Duration
	Multiplier  float64
	// AllowOnAccept settles without waiting for a matched-family state. It is
	// set right after the caller accepted the proposal themselves.
	AllowOnAccept bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 6, Delay: 500 * time.Millisecond, Multiplier: 1}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.Multiplier > 1 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.Delay
		b.Multiplier = p.Multiplier
		b.RandomizationFactor = 0
		b.MaxInterval = 30 * time.Second
		return b
	}
	return backoff.NewConstantBackOff(p.Delay)
}

type PartyAward struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Balance  int64  `json:"balance"`
}

type SettlementDetail struct {
	ResourceID  string       `json:"resource_id"`
	RequestID   string       `json:"request_id,omitempty"`
	Points      int64        `json:"points"`
	ValueSource string       `json:"value_source"`
	ItemTitle   string       `json:"item_title"`
	Awards      []PartyAward `json:"awards"`
}

// SettleResult is returned for every outcome that is safe to retry later;
// only storage failures surface as errors.
type SettleResult struct {
	Awarded  bool              `json:"awarded"`
	Reason   string            `json:"reason,omitempty"`
	Detail   *SettlementDetail `json:"detail,omitempty"`
	State    string            `json:"state"`
	Attempts int               `json:"attempts"`
}

type valueSource struct {
	name    string
	resolve func(ctx context.Context, sc *settleContext) int64
}

// settleContext carries what one settlement learned from the matching
// service. It is filled before any local transaction starts.
type settleContext struct {
	rec        *matching.MatchRecord
	resourceID string
	requestID  string
	global     []matching.ResourceBrief
	globalDone bool
}

// SettlementService detects finished matches and pays both parties once.
type SettlementService struct {
	db           *gorm.DB
	points       *PointService
	users        *repository.UserRepository
	client       matching.Client
	defaultValue int64
	policy       RetryPolicy
	values       []valueSource
	log          *slog.Logger
}

func NewSettlementService(
	db *gorm.DB,
	points *PointService,
	users *repository.UserRepository,
	client matching.Client,
	defaultValue int64,
	policy RetryPolicy,
	log *slog.Logger,
) *SettlementService {
	s := &SettlementService{
		db:           db,
		points:       points,
		users:        users,
		client:       client,
		defaultValue: defaultValue,
		policy:       policy,
		log:          log.With("component", "settlement"),
	}
	// TODO: make the value source order configurable once product decides
	// whether listings should ever outrank the match record.
	s.values = []valueSource{
		{"match_record", s.valueFromRecord},
		{"supplier_listing", s.valueFromSupplierListing},
		{"global_listing", s.valueFromGlobalListing},
		{"default", func(context.Context, *settleContext) int64 { return s.defaultValue }},
	}
	return s
}

func (s *SettlementService) Policy() RetryPolicy {
	return s.policy
}

// SettleAccepted runs one settlement attempt right after the caller accepted
// the proposal, without waiting for the remote state to catch up.
func (s *SettlementService) SettleAccepted(ctx context.Context, resourceID, requestID string) (*SettleResult, error) {
	return s.TrySettle(ctx, resourceID, requestID, RetryPolicy{MaxAttempts: 1, AllowOnAccept: true})
}

// TrySettle polls the matching service until the pair is final, then pays
// both parties. Running out of attempts or a cancelled ctx yields a
// "not matched" result, not an error.
func (s *SettlementService) TrySettle(ctx context.Context, resourceID, requestID string, policy RetryPolicy) (*SettleResult, error) {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}
	var (
		lastState string
		attempts  int
	)
	op := func() (*SettleResult, error) {
		attempts++
		rec := s.poll(ctx, resourceID, requestID)
		lastState = ""
		if rec != nil {
			lastState = rec.Status
		}
		if !policy.AllowOnAccept && (rec == nil || !matching.IsMatchedFamily(rec.Status)) {
			return nil, errNotMatched
		}
		res, err := s.settle(ctx, rec, authoritativeResourceID(rec, resourceID), requestID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		res.State = lastState
		return res, nil
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(policy.MaxAttempts),
	)
	metrics.SettlementPolls.Observe(float64(attempts))
	// Retry only unwraps a permanent error when tries remain.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	switch {
	case err == nil:
		res.Attempts = attempts
		return res, nil
	case errors.Is(err, errNotMatched), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.SettlementsTotal.WithLabelValues("not_matched").Inc()
		s.log.InfoContext(ctx, "match not final",
			"resource_id", resourceID, "request_id", requestID, "state", lastState, "attempts", attempts)
		return &SettleResult{Reason: domain.SettleReasonNotMatched, State: lastState, Attempts: attempts}, nil
	default:
		metrics.SettlementsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
}

// poll asks by resource first and falls back to the request side when the
// resource view is not final.
func (s *SettlementService) poll(ctx context.Context, resourceID, requestID string) *matching.MatchRecord {
	rec, err := s.client.GetByResource(ctx, resourceID)
	if err != nil {
		s.log.WarnContext(ctx, "match lookup by resource failed", "resource_id", resourceID, "error", err)
		rec = nil
	}
	if (rec == nil || !matching.IsMatchedFamily(rec.Status)) && requestID != "" {
		byReq, err := s.client.GetByRequest(ctx, requestID)
		if err != nil {
			s.log.WarnContext(ctx, "match lookup by request failed", "request_id", requestID, "error", err)
		} else if byReq != nil {
			rec = byReq
		}
	}
	return rec
}

// authoritativeResourceID prefers the match record's own cross-reference.
func authoritativeResourceID(rec *matching.MatchRecord, fallback string) string {
	if rec != nil {
		if rec.Request.MatchedResourceID != "" {
			return rec.Request.MatchedResourceID
		}
		if rec.Resource.ID != "" {
			return rec.Resource.ID
		}
	}
	return fallback
}

type party struct {
	userID   uint
	username string
	role     string
}

// settle resolves value and parties from the matching service, then writes
// all awards in one local transaction. No network call happens inside it.
func (s *SettlementService) settle(ctx context.Context, rec *matching.MatchRecord, resourceID, requestID string) (*SettleResult, error) {
	if rec == nil {
		rec = &matching.MatchRecord{}
	}
	if requestID == "" {
		requestID = rec.Request.ID
	}
	sc := &settleContext{rec: rec, resourceID: resourceID, requestID: requestID}

	points, source := s.resolveValue(ctx, sc)
	if points <= 0 {
		metrics.SettlementsTotal.WithLabelValues("value_failed").Inc()
		s.log.WarnContext(ctx, "settlement skipped", "resource_id", resourceID, "reason", domain.SettleReasonValueFailed)
		return &SettleResult{Reason: domain.SettleReasonValueFailed}, nil
	}

	request := s.resolveRequest(ctx, sc)
	supplierName := rec.Resource.Username
	if supplierName == "" {
		if r, ok := s.findGlobal(ctx, sc); ok {
			supplierName = r.Username
		}
	}

	parties, err := s.resolveParties(ctx, supplierName, request.Username)
	if err != nil {
		return nil, err
	}
	if parties == nil {
		metrics.SettlementsTotal.WithLabelValues("party_failed").Inc()
		s.log.WarnContext(ctx, "settlement skipped", "resource_id", resourceID,
			"supplier", supplierName, "requester", request.Username, "reason", domain.SettleReasonPartyFailed)
		return &SettleResult{Reason: domain.SettleReasonPartyFailed}, nil
	}

	itemTitle := request.ItemName
	if itemTitle == "" {
		itemTitle = domain.DefaultItemTitle
	}
	detail := &SettlementDetail{
		ResourceID:  resourceID,
		RequestID:   requestID,
		Points:      points,
		ValueSource: source,
		ItemTitle:   itemTitle,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		engine := s.points.WithTx(tx)
		for _, p := range parties {
			bal, err := engine.Award(ctx, AwardInput{
				UserID:         p.userID,
				Amount:         points,
				Reason:         domain.ReasonMatchReward,
				RefType:        domain.RefTypeResource,
				RefID:          resourceID,
				ItemTitle:      itemTitle,
				ItemAmount:     matching.ParseAmount(request.Amount),
				IdempotencyKey: domain.MatchIdempotencyKey(resourceID, p.userID),
			})
			if err != nil {
				return fmt.Errorf("award %s %d: %w", p.role, p.userID, err)
			}
			detail.Awards = append(detail.Awards, PartyAward{
				UserID: p.userID, Username: p.username, Role: p.role, Balance: bal,
			})
		}
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "settlement rolled back", "resource_id", resourceID, "error", err)
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("awarded").Inc()
	s.log.InfoContext(ctx, "match settled",
		"resource_id", resourceID, "request_id", requestID, "points", points,
		"value_source", source, "parties", len(parties))
	return &SettleResult{Awarded: true, Detail: detail}, nil
}

func (s *SettlementService) resolveValue(ctx context.Context, sc *settleContext) (int64, string) {
	for _, src := range s.values {
		if v := src.resolve(ctx, sc); v > 0 {
			return v, src.name
		}
	}
	return 0, ""
}

func (s *SettlementService) valueFromRecord(_ context.Context, sc *settleContext) int64 {
	if v := sc.rec.Resource.Value; v != nil {
		return *v
	}
	return 0
}

func (s *SettlementService) valueFromSupplierListing(ctx context.Context, sc *settleContext) int64 {
	username := sc.rec.Resource.Username
	if username == "" {
		return 0
	}
	list, err := s.client.ListResourcesOfUser(ctx, username)
	if err != nil {
		s.log.WarnContext(ctx, "supplier listing unavailable", "username", username, "error", err)
		return 0
	}
	return valueOf(list, sc.resourceID)
}

func (s *SettlementService) valueFromGlobalListing(ctx context.Context, sc *settleContext) int64 {
	r, ok := s.findGlobal(ctx, sc)
	if !ok || r.Value == nil {
		return 0
	}
	return *r.Value
}

// findGlobal looks the resource up in the system-wide listing, fetching it at
// most once per settlement.
func (s *SettlementService) findGlobal(ctx context.Context, sc *settleContext) (matching.ResourceBrief, bool) {
	if !sc.globalDone {
		sc.globalDone = true
		list, err := s.client.ListResources(ctx, matching.ResourceFilter{})
		if err != nil {
			s.log.WarnContext(ctx, "global resource listing unavailable", "error", err)
		}
		sc.global = list
	}
	for _, r := range sc.global {
		if r.ID == sc.resourceID {
			return r, true
		}
	}
	return matching.ResourceBrief{}, false
}

func valueOf(list []matching.ResourceBrief, resourceID string) int64 {
	for _, r := range list {
		if r.ID == resourceID && r.Value != nil {
			return *r.Value
		}
	}
	return 0
}

// resolveRequest completes the request side from a direct lookup when the
// match record did not name the requester.
func (s *SettlementService) resolveRequest(ctx context.Context, sc *settleContext) matching.RequestBrief {
	req := sc.rec.Request
	if req.Username != "" || sc.requestID == "" {
		return req
	}
	list, err := s.client.ListRequests(ctx, "")
	if err != nil {
		s.log.WarnContext(ctx, "request lookup failed", "request_id", sc.requestID, "error", err)
		return req
	}
	for _, r := range list {
		if r.ID != sc.requestID {
			continue
		}
		req.Username = r.Username
		if req.ItemName == "" {
			req.ItemName = r.ItemName
		}
		if req.Amount == "" {
			req.Amount = r.Amount
		}
		break
	}
	return req
}

// resolveParties maps both usernames to local users and drops the second
// entry when one user holds both sides. A nil slice means a party is unknown.
func (s *SettlementService) resolveParties(ctx context.Context, supplier, requester string) ([]party, error) {
	if supplier == "" || requester == "" {
		return nil, nil
	}
	sup, err := s.users.GetByUsername(ctx, supplier)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve supplier: %w", err)
	}
	req, err := s.users.GetByUsername(ctx, requester)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve requester: %w", err)
	}
	parties := []party{{sup.ID, sup.Username, domain.ProposalRoleSupplier}}
	if req.ID != sup.ID {
		parties = append(parties, party{req.ID, req.Username, domain.ProposalRoleRequester})
	}
	return parties, nil
}
