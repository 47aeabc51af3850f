package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ecoswap/internal/domain"
	"ecoswap/internal/matching"

	"golang.org/x/sync/errgroup"
)

const (
	SourceSupplier  = "supplier"
	SourceRequester = "requester"
	SourceHistory   = "history"
)

type SourceStatus string

const (
	SourceOK    SourceStatus = "ok"
	SourceEmpty SourceStatus = "empty"
	SourceError SourceStatus = "error"
)

type Proposal struct {
	State    matching.State         `json:"state"`
	Role     string                 `json:"role"`
	Resource matching.ResourceBrief `json:"resource"`
	Request  matching.RequestBrief  `json:"request"`
}

// SourceResult is what one view contributed to a feed. A failed view has
// Status error and no proposals; Skipped counts sub-items whose lookup failed.
type SourceResult struct {
	Source    string       `json:"source"`
	Status    SourceStatus `json:"status"`
	Count     int          `json:"count"`
	Skipped   int          `json:"skipped,omitempty"`
	Reason    string       `json:"error,omitempty"`
	Proposals []Proposal   `json:"-"`
	Err       error        `json:"-"`
}

type ProposalFeed struct {
	Proposals []Proposal     `json:"proposals"`
	Total     int            `json:"total"`
	Sources   []SourceResult `json:"sources"`
}

// ProposalService merges the supplier, requester and history views of match
// state into one deduplicated feed. Feeds are rebuilt on every call.
type ProposalService struct {
	client        matching.Client
	maxConcurrent int
	log           *slog.Logger
}

func NewProposalService(client matching.Client, maxConcurrent int, log *slog.Logger) *ProposalService {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &ProposalService{
		client:        client,
		maxConcurrent: maxConcurrent,
		log:           log.With("component", "proposals"),
	}
}

type stateFilter struct {
	state matching.State
	set   bool
}

// normalizeFilter maps a caller-supplied state onto the local vocabulary.
// An empty string means no filter.
func normalizeFilter(raw string) stateFilter {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return stateFilter{}
	}
	return stateFilter{state: matching.NormalizeState(raw), set: true}
}

// keepLive applies to the supplier and requester views: without a filter only
// proposed, matched and declined survive.
func (f stateFilter) keepLive(st matching.State) bool {
	if f.set {
		return st == f.state
	}
	return st == matching.StateProposed || st == matching.StateMatched || st == matching.StateDeclined
}

func (f stateFilter) keepHistory(st matching.State) bool {
	return !f.set || st == f.state
}

func (s *ProposalService) List(ctx context.Context, username, state string) *ProposalFeed {
	filter := normalizeFilter(state)

	var results [3]SourceResult
	var g errgroup.Group
	g.Go(func() error {
		results[0] = s.supplierView(ctx, username, filter)
		return nil
	})
	g.Go(func() error {
		results[1] = s.requesterView(ctx, username, filter)
		return nil
	})
	g.Go(func() error {
		results[2] = s.historyView(ctx, username, filter)
		return nil
	})
	_ = g.Wait()

	return merge(results[:])
}

type dedupKey struct {
	resourceID string
	requestID  string
	state      matching.State
}

// merge keeps the first occurrence of every (resource, request, state) in
// source order.
func merge(results []SourceResult) *ProposalFeed {
	seen := make(map[dedupKey]struct{})
	feed := &ProposalFeed{Proposals: []Proposal{}, Sources: make([]SourceResult, 0, len(results))}
	for _, res := range results {
		for _, p := range res.Proposals {
			k := dedupKey{p.Resource.ID, p.Request.ID, p.State}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			feed.Proposals = append(feed.Proposals, p)
		}
		feed.Sources = append(feed.Sources, res)
	}
	feed.Total = len(feed.Proposals)
	return feed
}

type lookup struct {
	rec *matching.MatchRecord
	err error
}

// lookupAll runs fn for every id with bounded concurrency and returns the
// results in input order.
func (s *ProposalService) lookupAll(ctx context.Context, ids []string, fn func(context.Context, string) (*matching.MatchRecord, error)) []lookup {
	out := make([]lookup, len(ids))
	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := fn(ctx, id)
			out[i] = lookup{rec: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *ProposalService) supplierView(ctx context.Context, username string, f stateFilter) SourceResult {
	res := SourceResult{Source: SourceSupplier}
	resources, err := s.client.ListResourcesOfUser(ctx, username)
	if err != nil {
		return s.failed(ctx, res, err)
	}

	seen := make(map[string]struct{}, len(resources))
	var rows []matching.ResourceBrief
	var ids []string
	for _, r := range resources {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		rows = append(rows, r)
		ids = append(ids, r.ID)
	}

	for i, l := range s.lookupAll(ctx, ids, s.client.GetByResource) {
		if l.err != nil {
			res.Skipped++
			s.log.WarnContext(ctx, "match lookup by resource failed", "resource_id", ids[i], "error", l.err)
			continue
		}
		if l.rec == nil {
			continue
		}
		st := l.rec.State()
		if !f.keepLive(st) {
			continue
		}
		res.Proposals = append(res.Proposals, Proposal{
			State:    st,
			Role:     domain.ProposalRoleSupplier,
			Resource: rows[i],
			Request:  l.rec.Request,
		})
	}
	return finish(res, len(ids))
}

func (s *ProposalService) requesterView(ctx context.Context, username string, f stateFilter) SourceResult {
	res := SourceResult{Source: SourceRequester}
	requests, err := s.client.ListRequestsOfUser(ctx, username)
	if err != nil {
		return s.failed(ctx, res, err)
	}

	ids := make([]string, len(requests))
	for i, r := range requests {
		ids[i] = r.ID
	}
	for i, l := range s.lookupAll(ctx, ids, s.client.GetByRequest) {
		if l.err != nil {
			res.Skipped++
			s.log.WarnContext(ctx, "match lookup by request failed", "request_id", ids[i], "error", l.err)
			continue
		}
		if l.rec == nil {
			continue
		}
		st := l.rec.State()
		if !f.keepLive(st) {
			continue
		}
		req := requests[i]
		if req.Username == "" {
			req.Username = username
		}
		res.Proposals = append(res.Proposals, Proposal{
			State:    st,
			Role:     domain.ProposalRoleRequester,
			Resource: l.rec.Resource,
			Request:  req,
		})
	}
	return finish(res, len(ids))
}

func (s *ProposalService) historyView(ctx context.Context, username string, f stateFilter) SourceResult {
	res := SourceResult{Source: SourceHistory}
	history, err := s.client.GetHistory(ctx, username)
	if err != nil {
		return s.failed(ctx, res, err)
	}
	for _, h := range history {
		st := matching.NormalizeState(h.Status)
		if !f.keepHistory(st) {
			continue
		}
		var role string
		switch {
		case username == "":
			continue
		case h.Resource.Username == username:
			role = domain.ProposalRoleSupplier
		case h.Request.Username == username:
			role = domain.ProposalRoleRequester
		default:
			continue
		}
		res.Proposals = append(res.Proposals, Proposal{
			State:    st,
			Role:     role,
			Resource: h.Resource,
			Request:  h.Request,
		})
	}
	return finish(res, len(history))
}

func (s *ProposalService) failed(ctx context.Context, res SourceResult, err error) SourceResult {
	s.log.WarnContext(ctx, "proposal source unavailable", "source", res.Source, "error", err)
	res.Status = SourceError
	res.Err = err
	res.Reason = err.Error()
	res.Proposals = nil
	return res
}

// finish sets the status of a view that was listed successfully. A view whose
// every sub-lookup failed counts as an error.
func finish(res SourceResult, items int) SourceResult {
	res.Count = len(res.Proposals)
	switch {
	case items > 0 && res.Skipped == items:
		res.Status = SourceError
		res.Reason = fmt.Sprintf("all %d lookups failed", items)
	case res.Count == 0:
		res.Status = SourceEmpty
	default:
		res.Status = SourceOK
	}
	return res
}
