package service

import (
	"context"
	"sync"

	"ecoswap/internal/matching"
)

// fakeClient is a scripted matching.Client. Nil hooks answer "nothing found".
type fakeClient struct {
	byResource      func(id string) (*matching.MatchRecord, error)
	byRequest       func(id string) (*matching.MatchRecord, error)
	history         func(username string) ([]matching.MatchRecord, error)
	resourcesOfUser func(username string) ([]matching.ResourceBrief, error)
	resources       func() ([]matching.ResourceBrief, error)
	requestsOfUser  func(username string) ([]matching.RequestBrief, error)
	requests        func() ([]matching.RequestBrief, error)

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeClient) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
}

func (f *fakeClient) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeClient) GetByResource(_ context.Context, id string) (*matching.MatchRecord, error) {
	f.count("by_resource")
	if f.byResource == nil {
		return nil, nil
	}
	return f.byResource(id)
}

func (f *fakeClient) GetByRequest(_ context.Context, id string) (*matching.MatchRecord, error) {
	f.count("by_request")
	if f.byRequest == nil {
		return nil, nil
	}
	return f.byRequest(id)
}

func (f *fakeClient) GetHistory(_ context.Context, username string) ([]matching.MatchRecord, error) {
	f.count("history")
	if f.history == nil {
		return nil, nil
	}
	return f.history(username)
}

func (f *fakeClient) Confirm(context.Context, string, string, matching.Action) (*matching.ConfirmResult, error) {
	f.count("confirm")
	return &matching.ConfirmResult{Status: "ok"}, nil
}

func (f *fakeClient) ManualMatch(context.Context, string, float64, string) (*matching.ConfirmResult, error) {
	f.count("manual_match")
	return &matching.ConfirmResult{Status: "pending"}, nil
}

func (f *fakeClient) ListResourcesOfUser(_ context.Context, username string) ([]matching.ResourceBrief, error) {
	f.count("resources_of_user")
	if f.resourcesOfUser == nil {
		return nil, nil
	}
	return f.resourcesOfUser(username)
}

func (f *fakeClient) ListResources(context.Context, matching.ResourceFilter) ([]matching.ResourceBrief, error) {
	f.count("resources")
	if f.resources == nil {
		return nil, nil
	}
	return f.resources()
}

func (f *fakeClient) ListRequestsOfUser(_ context.Context, username string) ([]matching.RequestBrief, error) {
	f.count("requests_of_user")
	if f.requestsOfUser == nil {
		return nil, nil
	}
	return f.requestsOfUser(username)
}

func (f *fakeClient) ListRequests(context.Context, string) ([]matching.RequestBrief, error) {
	f.count("requests")
	if f.requests == nil {
		return nil, nil
	}
	return f.requests()
}

func int64Ptr(v int64) *int64 { return &v }
