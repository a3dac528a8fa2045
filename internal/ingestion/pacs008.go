// Package ingestion implements the ingestion pipeline (C8): wire XML
// parsing and schema validation, projection to the internal transfer
// request, and orchestration of the idempotency/compliance/posting chain,
// followed by an outbound pacs.002 status report on any non-success path.
//
// No XML or ISO 20022 library appears anywhere in the example corpus, so
// parsing and marshaling use encoding/xml directly (see DESIGN.md) — the
// struct tags below are a deliberately small subset of the pacs.008.001.10
// schema, sufficient to project the fields spec §4.8 names.
package ingestion

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sentinelrtgs/core/internal/domain"
)

// pacs008Document is the minimal FIToFICustomerCreditTransferV10 shape the
// core needs to project a TransferRequest: group header message id, and
// one credit transfer transaction information block carrying amount,
// currency, debtor/creditor accounts (IBAN) and names, and the end-to-end id.
type pacs008Document struct {
	XMLName xml.Name        `xml:"Document"`
	FIToFI  pacs008FIToFICT `xml:"FIToFICstmrCdtTrf"`
}

type pacs008FIToFICT struct {
	GrpHdr pacs008GroupHeader `xml:"GrpHdr"`
	CdtTrf pacs008CreditXfer  `xml:"CdtTrfTxInf"`
}

type pacs008GroupHeader struct {
	MsgID string `xml:"MsgId"`
}

type pacs008CreditXfer struct {
	PmtID         pacs008PaymentID `xml:"PmtId"`
	Amount        pacs008Amount    `xml:"IntrBkSttlmAmt"`
	Debtor        pacs008Party     `xml:"Dbtr"`
	DebtorAcct    pacs008Account   `xml:"DbtrAcct"`
	Creditor      pacs008Party     `xml:"Cdtr"`
	CreditorAcct  pacs008Account   `xml:"CdtrAcct"`
}

type pacs008PaymentID struct {
	EndToEndID string `xml:"EndToEndId"`
}

type pacs008Amount struct {
	Currency string `xml:"Ccy,attr"`
	Value    string `xml:",chardata"`
}

type pacs008Party struct {
	Name string `xml:"Nm"`
}

type pacs008Account struct {
	IBAN string `xml:"Id>IBAN"`
}

// ParseAndValidate parses wire bytes as a pacs.008.001.10 document and
// validates the minimal required fields (spec §4.8 step 1). A failure here
// is always InvalidXml/SchemaViolation — never partially projected.
func ParseAndValidate(wireBytes []byte) (domain.TransferRequest, error) {
	var doc pacs008Document
	if err := xml.Unmarshal(wireBytes, &doc); err != nil {
		return domain.TransferRequest{}, fmt.Errorf("%w: %v", domain.ErrInvalidXML, err)
	}

	xfer := doc.FIToFI.CdtTrf
	msgIDRaw := strings.TrimSpace(doc.FIToFI.GrpHdr.MsgID)
	if msgIDRaw == "" {
		return domain.TransferRequest{}, fmt.Errorf("%w: missing GrpHdr/MsgId", domain.ErrInvalidXML)
	}
	msgID, err := uuid.Parse(msgIDRaw)
	if err != nil {
		return domain.TransferRequest{}, fmt.Errorf("%w: GrpHdr/MsgId is not a UUID: %v", domain.ErrInvalidXML, err)
	}

	currency := strings.ToUpper(strings.TrimSpace(xfer.Amount.Currency))
	if len(currency) != 3 {
		return domain.TransferRequest{}, fmt.Errorf("%w: invalid or missing settlement currency", domain.ErrInvalidXML)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(xfer.Amount.Value))
	if err != nil || !amount.IsPositive() {
		return domain.TransferRequest{}, fmt.Errorf("%w: invalid or non-positive settlement amount", domain.ErrInvalidXML)
	}

	debtorIBAN := strings.TrimSpace(xfer.DebtorAcct.IBAN)
	creditorIBAN := strings.TrimSpace(xfer.CreditorAcct.IBAN)
	if debtorIBAN == "" || creditorIBAN == "" {
		return domain.TransferRequest{}, fmt.Errorf("%w: missing debtor or creditor IBAN", domain.ErrInvalidXML)
	}

	return domain.TransferRequest{
		MsgID:      msgID,
		EndToEndID: strings.TrimSpace(xfer.PmtID.EndToEndID),
		Debtor:     domain.Party{IBAN: debtorIBAN, Name: strings.TrimSpace(xfer.Debtor.Name)},
		Creditor:   domain.Party{IBAN: creditorIBAN, Name: strings.TrimSpace(xfer.Creditor.Name)},
		Amount:     amount,
		Currency:   currency,
	}, nil
}
