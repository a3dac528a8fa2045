package ingestion

import (
	"encoding/xml"
	"fmt"
)

// GroupStatus is the ISO 20022 group-status code pacs.002 carries.
type GroupStatus string

const (
	GroupStatusRejected GroupStatus = "RJCT"
	GroupStatusPending  GroupStatus = "PDNG"
)

// ReasonCode is an external, recognized status-reason code. Spec §4.8
// names the mapping from internal failure to these four; any internal
// reason without a recognized code omits the status-reason block entirely
// rather than inventing one.
type ReasonCode string

const (
	ReasonInvalidAccount      ReasonCode = "AC01" // unrecognized/invalid IBAN
	ReasonInsufficientFunds   ReasonCode = "AM02" // insufficient funds
	ReasonSanctionsHold       ReasonCode = "RR04" // regulatory/compliance hold
	ReasonInvalidFileFormat   ReasonCode = "FF01" // invalid pacs.008 XML
)

// reasonAdditionalInfo is the human-readable text paired with each
// recognized reason code.
var reasonAdditionalInfo = map[ReasonCode]string{
	ReasonInvalidAccount:    "account not found or currency mismatch",
	ReasonInsufficientFunds: "source account balance below transfer amount",
	ReasonSanctionsHold:     "transfer held for compliance review",
	ReasonInvalidFileFormat: "inbound message failed schema validation",
}

// pacs002Document is the minimal FIToFIPaymentStatusReportV12 shape the
// core emits: original message identification, group status, and an
// optional status-reason block (spec §6).
type pacs002Document struct {
	XMLName xml.Name         `xml:"Document"`
	FIToFI  pacs002FIToFIRpt `xml:"FIToFIPmtStsRpt"`
}

type pacs002FIToFIRpt struct {
	GrpHdr  pacs002GroupHeader  `xml:"GrpHdr"`
	OrgnlGI pacs002OriginalInfo `xml:"OrgnlGrpInfAndSts"`
	TxInfSts *pacs002TxInfSts   `xml:"TxInfAndSts,omitempty"`
}

type pacs002GroupHeader struct {
	MsgID string `xml:"MsgId"`
}

type pacs002OriginalInfo struct {
	OrgnlMsgID   string              `xml:"OrgnlMsgId"`
	OrgnlMsgNmID string              `xml:"OrgnlMsgNmId"`
	GrpSts       GroupStatus         `xml:"GrpSts"`
	StsRsnInf    *pacs002StatusReason `xml:"StsRsnInf,omitempty"`
}

type pacs002TxInfSts struct {
	OrgnlEndToEndID string              `xml:"OrgnlEndToEndId"`
	TxSts           GroupStatus         `xml:"TxSts"`
	StsRsnInf       *pacs002StatusReason `xml:"StsRsnInf,omitempty"`
}

type pacs002StatusReason struct {
	Code       string `xml:"Rsn>Cd"`
	AddtlInf   string `xml:"AddtlInf,omitempty"`
}

// StatusReport is the outcome the pipeline projects into a pacs.002.
type StatusReport struct {
	OriginalMsgID   string
	OriginalE2EID   string
	Status          GroupStatus
	Reason          ReasonCode // empty if no recognized code applies
}

// MarshalPacs002 builds a FIToFIPaymentStatusReportV12 XML document mirroring
// the group status at the transaction level when the original end-to-end id
// is known (spec §6).
func MarshalPacs002(report StatusReport) ([]byte, error) {
	var reasonBlock *pacs002StatusReason
	if report.Reason != "" {
		reasonBlock = &pacs002StatusReason{
			Code:     string(report.Reason),
			AddtlInf: reasonAdditionalInfo[report.Reason],
		}
	}

	doc := pacs002Document{
		FIToFI: pacs002FIToFIRpt{
			GrpHdr: pacs002GroupHeader{MsgID: report.OriginalMsgID + "-STS"},
			OrgnlGI: pacs002OriginalInfo{
				OrgnlMsgID:   report.OriginalMsgID,
				OrgnlMsgNmID: "pacs.008.001.10",
				GrpSts:       report.Status,
				StsRsnInf:    reasonBlock,
			},
		},
	}
	if report.OriginalE2EID != "" {
		doc.FIToFI.TxInfSts = &pacs002TxInfSts{
			OrgnlEndToEndID: report.OriginalE2EID,
			TxSts:           report.Status,
			StsRsnInf:       reasonBlock,
		}
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("ingestion: marshal pacs.002: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
