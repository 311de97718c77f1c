package circulation

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"circulus/internal/eventstore"
	"circulus/internal/result"
	"circulus/internal/rules"
)

// journal records the order writes reach the collaborators.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeItems struct {
	journal   *journal
	mu        sync.Mutex
	items     map[uuid.UUID]Item
	updateErr error
}

func newFakeItems(j *journal, items ...Item) *fakeItems {
	f := &fakeItems{journal: j, items: map[uuid.UUID]Item{}}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeItems) GetItem(_ context.Context, id uuid.UUID) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return Item{}, result.NotFound("item", id.String())
	}
	return item, nil
}

func (f *fakeItems) FindItemByBarcode(_ context.Context, barcode string) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.Barcode == barcode {
			return item, nil
		}
	}
	return Item{}, result.NotFound("item", barcode)
}

func (f *fakeItems) UpdateItemStatus(_ context.Context, item Item, status ItemStatus) (Item, error) {
	f.journal.add("item:" + string(status))
	if f.updateErr != nil {
		return Item{}, f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	updated := item.WithStatus(status)
	updated.Version++
	f.items[item.ID] = updated
	return updated, nil
}

func (f *fakeItems) status(id uuid.UUID) ItemStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].Status
}

type fakeUsers struct {
	users map[uuid.UUID]User
}

func newFakeUsers(users ...User) *fakeUsers {
	f := &fakeUsers{users: map[uuid.UUID]User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetUser(_ context.Context, id uuid.UUID) (User, error) {
	user, ok := f.users[id]
	if !ok {
		return User{}, result.NotFound("user", id.String())
	}
	return user, nil
}

func (f *fakeUsers) FindUserByBarcode(_ context.Context, barcode string) (User, error) {
	for _, u := range f.users {
		if u.Barcode == barcode {
			return u, nil
		}
	}
	return User{}, result.NotFound("user", barcode)
}

type fakeLoans struct {
	journal   *journal
	mu        sync.Mutex
	loans     map[uuid.UUID]Loan
	createErr error
}

func newFakeLoans(j *journal, loans ...Loan) *fakeLoans {
	f := &fakeLoans{journal: j, loans: map[uuid.UUID]Loan{}}
	for _, l := range loans {
		f.loans[l.ID] = l
	}
	return f
}

func (f *fakeLoans) CreateLoan(_ context.Context, loan Loan) (Loan, error) {
	f.journal.add("loan:create")
	if f.createErr != nil {
		return Loan{}, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	loan.Version = 1
	f.loans[loan.ID] = loan
	return loan, nil
}

func (f *fakeLoans) UpdateLoan(_ context.Context, loan Loan) (Loan, error) {
	f.journal.add("loan:update")
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.loans[loan.ID]
	if !ok || stored.Version != loan.Version {
		return Loan{}, result.Conflict("loan", loan.ID.String())
	}
	loan.Version++
	f.loans[loan.ID] = loan
	return loan, nil
}

func (f *fakeLoans) GetLoan(_ context.Context, id uuid.UUID) (Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	loan, ok := f.loans[id]
	if !ok {
		return Loan{}, result.NotFound("loan", id.String())
	}
	return loan, nil
}

func (f *fakeLoans) FindOpenLoans(_ context.Context, itemID uuid.UUID) ([]Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []Loan
	for _, l := range f.loans {
		if l.ItemID == itemID && l.IsOpen() {
			open = append(open, l)
		}
	}
	return open, nil
}

type fakeRequests struct {
	journal   *journal
	mu        sync.Mutex
	byID      map[uuid.UUID]Request
	updates   []Request
	updateErr error
}

func newFakeRequests(j *journal, requests ...Request) *fakeRequests {
	f := &fakeRequests{journal: j, byID: map[uuid.UUID]Request{}}
	for _, r := range requests {
		f.byID[r.ID] = r
	}
	return f
}

func (f *fakeRequests) CreateRequest(_ context.Context, request Request) (Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request.Version = 1
	f.byID[request.ID] = request
	return request, nil
}

func (f *fakeRequests) UpdateRequest(_ context.Context, request Request) (Request, error) {
	if f.journal != nil {
		f.journal.add("request:" + string(request.Status))
	}
	if f.updateErr != nil {
		return Request{}, f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[request.ID]
	if !ok || stored.Version != request.Version {
		return Request{}, result.Conflict("request", request.ID.String())
	}
	request.Version++
	f.byID[request.ID] = request
	f.updates = append(f.updates, request)
	return request, nil
}

func (f *fakeRequests) GetRequest(_ context.Context, id uuid.UUID) (Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.byID[id]
	if !ok {
		return Request{}, result.NotFound("request", id.String())
	}
	return request, nil
}

func (f *fakeRequests) FindOpenRequests(_ context.Context, itemID uuid.UUID) ([]Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []Request
	for _, r := range f.byID {
		if r.ItemID == itemID && r.IsOpen() {
			open = append(open, r)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].PositionValue() < open[j].PositionValue() })
	return open, nil
}

func (f *fakeRequests) get(id uuid.UUID) Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *fakeRequests) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakePolicies map[string]LoanPolicy

func (f fakePolicies) GetLoanPolicy(_ context.Context, id string) (LoanPolicy, error) {
	policy, ok := f[id]
	if !ok {
		return LoanPolicy{}, result.NotFound("loan policy", id)
	}
	return policy, nil
}

// staticResolver answers every lookup with the same policy id.
type staticResolver string

func (s staticResolver) ResolveLoanPolicyID(context.Context, rules.Criteria) (string, error) {
	return string(s), nil
}

type fakeHistory struct {
	mu     sync.Mutex
	events []eventstore.Event
	err    error
}

func (f *fakeHistory) Record(_ context.Context, aggregateID uuid.UUID, aggregateType, eventType string, data any) error {
	if f.err != nil {
		return f.err
	}
	event, err := eventstore.NewEvent(eventType, data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	event.AggregateID = aggregateID
	event.AggregateType = aggregateType
	event.Version = len(f.events) + 1
	f.events = append(f.events, event)
	return nil
}

func (f *fakeHistory) LoadEvents(_ context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found []eventstore.Event
	for _, e := range f.events {
		if e.AggregateID == aggregateID {
			found = append(found, e)
		}
	}
	return found, nil
}

func (f *fakeHistory) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, e := range f.events {
		types = append(types, e.EventType)
	}
	return types
}
