package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/pmorton/custodian/internal/model"
)

// fakeStore records lifecycle mutations in memory.
type fakeStore struct {
	memories  map[string]*model.Memory
	audited   []string
	deleted   []string
	failOnGet map[string]bool
}

func newFakeStore(records ...*model.Memory) *fakeStore {
	s := &fakeStore{
		memories:  map[string]*model.Memory{},
		failOnGet: map[string]bool{},
	}
	for _, m := range records {
		s.memories[m.ID] = m
	}
	return s
}

func (s *fakeStore) GetMemory(id string) (*model.Memory, error) {
	if s.failOnGet[id] {
		return nil, errors.New("simulated store failure")
	}
	m, ok := s.memories[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (s *fakeStore) UpdateContent(id, content string) error {
	m, ok := s.memories[id]
	if !ok {
		return errors.New("not found")
	}
	m.Content = content
	return nil
}

func (s *fakeStore) UpdateStatus(id string, next model.Status, reason string) error {
	m, ok := s.memories[id]
	if !ok {
		return errors.New("not found")
	}
	updated, err := m.Status.Transition(next)
	if err != nil {
		return err
	}
	m.Status = updated
	return nil
}

func (s *fakeStore) SetWorldview(id, version string) error {
	m, ok := s.memories[id]
	if !ok {
		return errors.New("not found")
	}
	m.WorldviewVersion = version
	return nil
}

func (s *fakeStore) DeleteMemory(id string) error {
	if _, ok := s.memories[id]; !ok {
		return errors.New("not found")
	}
	delete(s.memories, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) RecordDeletion(runID int64, memoryID, reason, content string) error {
	if reason == "" {
		return errors.New("empty reason")
	}
	s.audited = append(s.audited, memoryID)
	return nil
}

type fakeGraph struct {
	removed []string
	found   bool
}

func (g *fakeGraph) RemoveByContent(content string) (bool, error) {
	g.removed = append(g.removed, content)
	return g.found, nil
}

func TestApplyCommitsFullPlan(t *testing.T) {
	keep := record("kept record content stays as it is")
	rw := record("rewrite target original content")
	arch := record("doubtful record heading to the archive")
	del := record("broken record heading out entirely")

	store := newFakeStore(keep, rw, arch, del)
	g := &fakeGraph{found: true}
	applier := NewLifecycleApplier(store, g)

	plan := &model.ReconciliationPlan{
		Rewrites:  []model.Rewrite{{ID: rw.ID, NewContent: "rewrite target improved content"}},
		Archives:  []model.Archive{{ID: arch.ID, Reason: "confidence below archive threshold"}},
		Deletions: []model.Deletion{{ID: del.ID, Reason: "error artifact"}},
	}

	res := applier.Apply(context.Background(), 1, plan)

	if res.RewritesApplied != 1 || res.ArchivesApplied != 1 || res.DeletionsApplied != 1 {
		t.Fatalf("result = %+v", res)
	}
	if store.memories[rw.ID].Content != "rewrite target improved content" {
		t.Error("rewrite not committed")
	}
	if store.memories[arch.ID].Status != model.StatusArchived {
		t.Errorf("archive status = %s", store.memories[arch.ID].Status)
	}
	if _, ok := store.memories[del.ID]; ok {
		t.Error("deletion not committed")
	}
	if res.GraphRemoved != 1 || len(g.removed) != 1 {
		t.Errorf("graph removals = %d/%d", res.GraphRemoved, len(g.removed))
	}
	if res.Failed != 0 {
		t.Errorf("failed = %d", res.Failed)
	}
	if store.memories[rw.ID].WorldviewVersion != "run-1" {
		t.Errorf("rewrite worldview = %q, want run-1", store.memories[rw.ID].WorldviewVersion)
	}
	if store.memories[arch.ID].WorldviewVersion != "run-1" {
		t.Errorf("archive worldview = %q, want run-1", store.memories[arch.ID].WorldviewVersion)
	}
	if store.memories[keep.ID].WorldviewVersion != "" {
		t.Error("untouched record must not be stamped")
	}
}

func TestApplyCancelledCountsWholePlan(t *testing.T) {
	a, b := record("first pending rewrite target"), record("second pending rewrite target")
	arch := record("pending archive target")
	del := record("pending deletion target")

	store := newFakeStore(a, b, arch, del)
	applier := NewLifecycleApplier(store, &fakeGraph{})

	plan := &model.ReconciliationPlan{
		Rewrites: []model.Rewrite{
			{ID: a.ID, NewContent: "never applied"},
			{ID: b.ID, NewContent: "never applied"},
		},
		Archives:  []model.Archive{{ID: arch.ID, Reason: "low confidence"}},
		Deletions: []model.Deletion{{ID: del.ID, Reason: "error artifact"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := applier.Apply(ctx, 1, plan)

	if res.Failed != 4 {
		t.Errorf("failed = %d, want every skipped entry counted", res.Failed)
	}
	if res.RewritesApplied != 0 || res.ArchivesApplied != 0 || res.DeletionsApplied != 0 {
		t.Errorf("result = %+v, want nothing applied", res)
	}
	if _, stillThere := store.memories[del.ID]; !stillThere {
		t.Error("deletion must not run after cancellation")
	}
}

func TestApplyAuditsBeforeDelete(t *testing.T) {
	del := record("record with an audit trail requirement")
	store := newFakeStore(del)
	applier := NewLifecycleApplier(store, &fakeGraph{})

	plan := &model.ReconciliationPlan{
		Deletions: []model.Deletion{{ID: del.ID, Reason: "stack trace"}},
	}
	res := applier.Apply(context.Background(), 7, plan)

	if res.DeletionsApplied != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(store.audited) != 1 || store.audited[0] != del.ID {
		t.Errorf("audit entries = %v", store.audited)
	}
	if len(res.DeletionReasons) != 1 || res.DeletionReasons[0] != "stack trace" {
		t.Errorf("reasons = %v", res.DeletionReasons)
	}
}

func TestApplySkipsFailedRecords(t *testing.T) {
	ok := record("record that deletes cleanly without any trouble")
	bad := record("record whose load fails mid apply")

	store := newFakeStore(ok, bad)
	store.failOnGet[bad.ID] = true
	applier := NewLifecycleApplier(store, &fakeGraph{})

	plan := &model.ReconciliationPlan{
		Deletions: []model.Deletion{
			{ID: bad.ID, Reason: "error artifact"},
			{ID: ok.ID, Reason: "error artifact"},
		},
	}
	res := applier.Apply(context.Background(), 1, plan)

	if res.DeletionsApplied != 1 {
		t.Errorf("applied = %d, want 1", res.DeletionsApplied)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	if _, stillThere := store.memories[ok.ID]; stillThere {
		t.Error("healthy record should still be deleted after a failure")
	}
}

func TestApplyGraphMissIsNotFatal(t *testing.T) {
	del := record("record absent from the concept graph")
	store := newFakeStore(del)
	g := &fakeGraph{found: false}
	applier := NewLifecycleApplier(store, g)

	plan := &model.ReconciliationPlan{
		Deletions: []model.Deletion{{ID: del.ID, Reason: "test artifact"}},
	}
	res := applier.Apply(context.Background(), 1, plan)

	if res.DeletionsApplied != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.GraphRemoved != 0 {
		t.Errorf("graph removed = %d, want 0", res.GraphRemoved)
	}
}
