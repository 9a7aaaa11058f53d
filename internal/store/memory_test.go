package store

import (
	"context"
	"testing"
	"time"
)

func seedBranch(t *testing.T, s *MemoryStore, id, questionID, ddqID string) Branch {
	t.Helper()
	branch := Branch{
		ID:               id,
		ParentQuestionID: questionID,
		DDQID:            ddqID,
		Question:         "How many employees by region?",
		Type:             TypeLongText,
		Status:           BranchPending,
		CreatedBy:        "Priya N.",
		CreatedByRole:    "allocator",
		CreatedAt:        time.Now(),
		Reasoning:        "need breakdown",
	}
	if err := s.InsertBranch(context.Background(), branch); err != nil {
		t.Fatalf("InsertBranch failed: %v", err)
	}
	return branch
}

func TestBranchesPreserveInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seedBranch(t, s, "br_1", "q_1", "ddq_1")
	seedBranch(t, s, "br_2", "q_1", "ddq_1")
	seedBranch(t, s, "br_3", "q_2", "ddq_1")

	branches, err := s.ListBranches(ctx, "q_1")
	if err != nil {
		t.Fatalf("ListBranches failed: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(branches))
	}
	if branches[0].ID != "br_1" || branches[1].ID != "br_2" {
		t.Fatalf("branches out of creation order: %s, %s", branches[0].ID, branches[1].ID)
	}

	all, err := s.ListBranchesByDDQ(ctx, "ddq_1")
	if err != nil {
		t.Fatalf("ListBranchesByDDQ failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 branches for ddq, got %d", len(all))
	}
}

func TestUpdateBranchAnswerVersionGuard(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBranch(t, s, "br_1", "q_1", "ddq_1")

	ok, err := s.UpdateBranchAnswer(ctx, "br_1", 1, "NA: not tracked", "Mark T.", time.Now())
	if err != nil || !ok {
		t.Fatalf("UpdateBranchAnswer = (%v, %v), want (true, nil)", ok, err)
	}

	branch, err := s.GetBranch(ctx, "ddq_1", "br_1")
	if err != nil {
		t.Fatalf("GetBranch failed: %v", err)
	}
	if branch.Status != BranchAnswered || branch.Answer == nil || *branch.Answer != "NA: not tracked" {
		t.Fatalf("unexpected branch after answer: %+v", branch)
	}
	if branch.AnsweredAt == nil {
		t.Fatal("answeredAt not set")
	}
	if branch.Version != 2 {
		t.Fatalf("version = %d, want 2", branch.Version)
	}

	// Stale version must not win.
	ok, err = s.UpdateBranchAnswer(ctx, "br_1", 1, "overwritten", "Mark T.", time.Now())
	if err != nil {
		t.Fatalf("UpdateBranchAnswer failed: %v", err)
	}
	if ok {
		t.Fatal("stale version update succeeded")
	}
}

func TestUpdateBranchStatusKeepsAnswer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBranch(t, s, "br_1", "q_1", "ddq_1")

	if ok, err := s.UpdateBranchAnswer(ctx, "br_1", 1, "NA: not tracked", "Mark T.", time.Now()); err != nil || !ok {
		t.Fatalf("UpdateBranchAnswer = (%v, %v)", ok, err)
	}
	if ok, err := s.UpdateBranchStatus(ctx, "br_1", 2, BranchClarification); err != nil || !ok {
		t.Fatalf("UpdateBranchStatus = (%v, %v)", ok, err)
	}

	branch, err := s.GetBranch(ctx, "ddq_1", "br_1")
	if err != nil {
		t.Fatalf("GetBranch failed: %v", err)
	}
	if branch.Status != BranchClarification {
		t.Fatalf("status = %q, want clarification_needed", branch.Status)
	}
	if branch.Answer == nil || *branch.Answer != "NA: not tracked" {
		t.Fatal("flagging cleared the prior answer")
	}
}

func TestGetBranchScopedToDDQ(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBranch(t, s, "br_1", "q_1", "ddq_1")

	if _, err := s.GetBranch(ctx, "ddq_other", "br_1"); !IsNotFound(err) {
		t.Fatalf("expected not-found for wrong ddq, got %v", err)
	}
}

func TestAnswerQuestionKeepsFirstAnsweredAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.InsertDDQ(ctx, DDQ{ID: "ddq_1", Name: "2026 Core Review"}); err != nil {
		t.Fatalf("InsertDDQ failed: %v", err)
	}
	if err := s.InsertQuestion(ctx, Question{ID: "q_1", DDQID: "ddq_1", Text: "What is your fund size?", Type: TypeCurrency}); err != nil {
		t.Fatalf("InsertQuestion failed: %v", err)
	}

	first := time.Now().Add(-time.Hour)
	if ok, err := s.AnswerQuestion(ctx, "ddq_1", "q_1", "$2.4bn", first); err != nil || !ok {
		t.Fatalf("AnswerQuestion = (%v, %v)", ok, err)
	}
	if ok, err := s.AnswerQuestion(ctx, "ddq_1", "q_1", "$2.6bn", time.Now()); err != nil || !ok {
		t.Fatalf("AnswerQuestion = (%v, %v)", ok, err)
	}

	q, err := s.GetQuestion(ctx, "ddq_1", "q_1")
	if err != nil {
		t.Fatalf("GetQuestion failed: %v", err)
	}
	if q.Answer == nil || *q.Answer != "$2.6bn" {
		t.Fatalf("answer = %v, want overwritten value", q.Answer)
	}
	if q.AnsweredAt == nil || !q.AnsweredAt.Equal(first) {
		t.Fatalf("answeredAt = %v, want first answer time", q.AnsweredAt)
	}
}

func TestInsertResponseBankEntryUpsertsAnswer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	entry := ResponseBankEntry{
		ID:           "rb_br_1",
		Question:     "How has fund size changed over time?",
		Answer:       "AUM grew 18%.",
		Tags:         []string{"fund-size"},
		QuestionType: TypeLongText,
	}
	if err := s.InsertResponseBankEntry(ctx, entry); err != nil {
		t.Fatalf("InsertResponseBankEntry failed: %v", err)
	}

	entry.Answer = "AUM grew 18% then 11%."
	if err := s.InsertResponseBankEntry(ctx, entry); err != nil {
		t.Fatalf("second InsertResponseBankEntry failed: %v", err)
	}

	entries, err := s.ListResponseBank(ctx)
	if err != nil {
		t.Fatalf("ListResponseBank failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Answer != "AUM grew 18% then 11%." {
		t.Fatalf("answer = %q, want latest answer", entries[0].Answer)
	}
	if !entries[0].UpdatedAt.After(entries[0].CreatedAt) {
		t.Fatal("updatedAt was not advanced on re-answer")
	}
}
