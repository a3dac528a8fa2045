package ingestion_test

import (
	"strings"
	"testing"

	"github.com/sentinelrtgs/core/internal/ingestion"
)

func TestMarshalPacs002IncludesReasonBlockWhenRecognized(t *testing.T) {
	body, err := ingestion.MarshalPacs002(ingestion.StatusReport{
		OriginalMsgID: "11111111-1111-1111-1111-111111111111",
		OriginalE2EID: "E2E-001",
		Status:        ingestion.GroupStatusRejected,
		Reason:        ingestion.ReasonInsufficientFunds,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := string(body)
	if !strings.Contains(s, "RJCT") {
		t.Fatalf("expected RJCT group status, got %s", s)
	}
	if !strings.Contains(s, "AM02") {
		t.Fatalf("expected AM02 reason code, got %s", s)
	}
	if !strings.Contains(s, "pacs.008.001.10") {
		t.Fatalf("expected original message name id, got %s", s)
	}
}

func TestMarshalPacs002OmitsReasonBlockWhenUnrecognized(t *testing.T) {
	body, err := ingestion.MarshalPacs002(ingestion.StatusReport{
		OriginalMsgID: "11111111-1111-1111-1111-111111111111",
		Status:        ingestion.GroupStatusPending,
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(body), "StsRsnInf") {
		t.Fatal("expected no status-reason block when no recognized code applies")
	}
}
