package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-backend/internal/store"
)

func deadLetterOne(t *testing.T, s *Server) *store.WebhookDelivery {
	t.Helper()
	ctx := context.Background()
	d, err := s.store.EnqueueWebhook(ctx, "job-1", store.WebhookEventFailed, "https://example.com/hook", datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	if err := s.store.MarkWebhookResult(ctx, d.ID, false, "boom", 1, func(int) time.Duration { return 0 }); err != nil {
		t.Fatalf("MarkWebhookResult: %v", err)
	}
	return d
}

func TestListDeadLettersReturnsFailedDeliveries(t *testing.T) {
	h, s := testHandler(t)
	deadLetterOne(t, s)

	req := httptest.NewRequest(http.MethodGet, "/v1/webhooks/dead-letter", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var out ListResponse[WebhookDeliveryResponse]
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TotalCount != 1 || len(out.Data) != 1 {
		t.Fatalf("ListResponse = %+v, want one dead letter", out)
	}
}

func TestRetryDeadLetterReturnsNoContentAndClearsList(t *testing.T) {
	h, s := testHandler(t)
	d := deadLetterOne(t, s)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/dead-letter/"+d.ID+"/retry", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v1/webhooks/dead-letter", nil)
	listRR := httptest.NewRecorder()
	h.ServeHTTP(listRR, listReq)
	var out ListResponse[WebhookDeliveryResponse]
	if err := json.NewDecoder(listRR.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TotalCount != 0 {
		t.Fatalf("TotalCount = %d, want 0 after requeue", out.TotalCount)
	}
}

func TestDeleteDeadLetterRemovesRow(t *testing.T) {
	h, s := testHandler(t)
	d := deadLetterOne(t, s)

	req := httptest.NewRequest(http.MethodDelete, "/v1/webhooks/dead-letter/"+d.ID, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodDelete, "/v1/webhooks/dead-letter/"+d.ID, nil)
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr2.Code)
	}
}
