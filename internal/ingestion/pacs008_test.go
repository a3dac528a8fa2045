package ingestion_test

import (
	"errors"
	"testing"

	"github.com/sentinelrtgs/core/internal/domain"
	"github.com/sentinelrtgs/core/internal/ingestion"
)

const samplePacs008 = `<?xml version="1.0" encoding="UTF-8"?>
<Document>
  <FIToFICstmrCdtTrf>
    <GrpHdr><MsgId>11111111-1111-1111-1111-111111111111</MsgId></GrpHdr>
    <CdtTrfTxInf>
      <PmtId><EndToEndId>E2E-001</EndToEndId></PmtId>
      <IntrBkSttlmAmt Ccy="EUR">500.00</IntrBkSttlmAmt>
      <Dbtr><Nm>Clean Sender</Nm></Dbtr>
      <DbtrAcct><Id><IBAN>DE89370400440532013000</IBAN></Id></DbtrAcct>
      <Cdtr><Nm>Clean Receiver</Nm></Cdtr>
      <CdtrAcct><Id><IBAN>GB29NWBK60161331926819</IBAN></Id></CdtrAcct>
    </CdtTrfTxInf>
  </FIToFICstmrCdtTrf>
</Document>`

func TestParseAndValidateProjectsFields(t *testing.T) {
	req, err := ingestion.ParseAndValidate([]byte(samplePacs008))
	if err != nil {
		t.Fatal(err)
	}
	if req.Currency != "EUR" {
		t.Fatalf("expected EUR, got %s", req.Currency)
	}
	if !req.Amount.Equal(req.Amount) || req.Amount.String() != "500.00" {
		t.Fatalf("expected amount 500.00, got %s", req.Amount.String())
	}
	if req.Debtor.IBAN != "DE89370400440532013000" {
		t.Fatalf("unexpected debtor iban: %s", req.Debtor.IBAN)
	}
	if req.Creditor.Name != "Clean Receiver" {
		t.Fatalf("unexpected creditor name: %s", req.Creditor.Name)
	}
	if req.EndToEndID != "E2E-001" {
		t.Fatalf("unexpected end-to-end id: %s", req.EndToEndID)
	}
}

func TestParseAndValidateRejectsMissingIBAN(t *testing.T) {
	bad := `<Document><FIToFICstmrCdtTrf>
		<GrpHdr><MsgId>11111111-1111-1111-1111-111111111111</MsgId></GrpHdr>
		<CdtTrfTxInf>
			<PmtId><EndToEndId>E2E-002</EndToEndId></PmtId>
			<IntrBkSttlmAmt Ccy="EUR">100.00</IntrBkSttlmAmt>
			<Dbtr><Nm>A</Nm></Dbtr>
			<DbtrAcct><Id></Id></DbtrAcct>
			<Cdtr><Nm>B</Nm></Cdtr>
			<CdtrAcct><Id><IBAN>GB29NWBK60161331926819</IBAN></Id></CdtrAcct>
		</CdtTrfTxInf>
	</FIToFICstmrCdtTrf></Document>`
	if _, err := ingestion.ParseAndValidate([]byte(bad)); err == nil {
		t.Fatal("expected missing IBAN to fail validation")
	}
}

func TestParseAndValidateRejectsNonPositiveAmount(t *testing.T) {
	bad := `<Document><FIToFICstmrCdtTrf>
		<GrpHdr><MsgId>11111111-1111-1111-1111-111111111111</MsgId></GrpHdr>
		<CdtTrfTxInf>
			<PmtId><EndToEndId>E2E-003</EndToEndId></PmtId>
			<IntrBkSttlmAmt Ccy="EUR">0.00</IntrBkSttlmAmt>
			<Dbtr><Nm>A</Nm></Dbtr>
			<DbtrAcct><Id><IBAN>DE89370400440532013000</IBAN></Id></DbtrAcct>
			<Cdtr><Nm>B</Nm></Cdtr>
			<CdtrAcct><Id><IBAN>GB29NWBK60161331926819</IBAN></Id></CdtrAcct>
		</CdtTrfTxInf>
	</FIToFICstmrCdtTrf></Document>`
	if _, err := ingestion.ParseAndValidate([]byte(bad)); err == nil {
		t.Fatal("expected non-positive amount to fail validation")
	}
}

func TestParseAndValidateRejectsGarbageXML(t *testing.T) {
	if _, err := ingestion.ParseAndValidate([]byte("not xml at all")); err == nil {
		t.Fatal("expected garbage input to fail")
	}
}

func TestParseAndValidateErrorIsInvalidXMLSentinel(t *testing.T) {
	_, err := ingestion.ParseAndValidate([]byte("<Document></Document>"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrInvalidXML) {
		t.Fatalf("expected ErrInvalidXML, got %v", err)
	}
}
