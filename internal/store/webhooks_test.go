package store

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"
)

func TestClaimDueWebhooksOnlyReturnsPastDue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.EnqueueWebhook(ctx, "job-1", WebhookEventCompleted, "https://example.com", datatypes.JSON(`{}`)); err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}

	claimed, err := st.ClaimDueWebhooks(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueWebhooks: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1", len(claimed))
	}

	// Claimed rows are leased forward, so a second claim before the lease
	// elapses should see nothing pending.
	again, err := st.ClaimDueWebhooks(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueWebhooks second call: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second claim returned %d rows, want 0", len(again))
	}
}

func TestMarkWebhookResultSuccessMarksSucceeded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d, err := st.EnqueueWebhook(ctx, "job-1", WebhookEventCompleted, "https://example.com", datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}

	if err := st.MarkWebhookResult(ctx, d.ID, true, "", 3, func(int) time.Duration { return time.Second }); err != nil {
		t.Fatalf("MarkWebhookResult: %v", err)
	}

	rows, total, err := st.ListDeadLetters(ctx, Page{})
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if total != 0 || len(rows) != 0 {
		t.Fatalf("a succeeded delivery should not appear in the dead letter list")
	}
}

func TestMarkWebhookResultDeadLettersAtMaxAttempts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d, err := st.EnqueueWebhook(ctx, "job-1", WebhookEventFailed, "https://example.com", datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}

	backoff := func(int) time.Duration { return time.Second }
	if err := st.MarkWebhookResult(ctx, d.ID, false, "boom", 2, backoff); err != nil {
		t.Fatalf("MarkWebhookResult #1: %v", err)
	}
	if err := st.MarkWebhookResult(ctx, d.ID, false, "boom again", 2, backoff); err != nil {
		t.Fatalf("MarkWebhookResult #2: %v", err)
	}

	rows, total, err := st.ListDeadLetters(ctx, Page{})
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("total=%d len=%d, want 1/1 after exhausting max attempts", total, len(rows))
	}
	if rows[0].LastError != "boom again" {
		t.Fatalf("LastError = %q", rows[0].LastError)
	}
}

func TestRequeueDeadLetterResetsForRetry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d, err := st.EnqueueWebhook(ctx, "job-1", WebhookEventFailed, "https://example.com", datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	if err := st.MarkWebhookResult(ctx, d.ID, false, "boom", 1, func(int) time.Duration { return 0 }); err != nil {
		t.Fatalf("MarkWebhookResult: %v", err)
	}

	if err := st.RequeueDeadLetter(ctx, d.ID); err != nil {
		t.Fatalf("RequeueDeadLetter: %v", err)
	}

	claimed, err := st.ClaimDueWebhooks(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueWebhooks: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want the requeued delivery to be pending again", len(claimed))
	}
}

func TestDeleteDeadLetterRemovesRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d, err := st.EnqueueWebhook(ctx, "job-1", WebhookEventFailed, "https://example.com", datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	if err := st.MarkWebhookResult(ctx, d.ID, false, "boom", 1, func(int) time.Duration { return 0 }); err != nil {
		t.Fatalf("MarkWebhookResult: %v", err)
	}
	if err := st.DeleteDeadLetter(ctx, d.ID); err != nil {
		t.Fatalf("DeleteDeadLetter: %v", err)
	}
	if err := st.DeleteDeadLetter(ctx, d.ID); err == nil {
		t.Fatalf("second delete should fail, row already gone")
	}
}
