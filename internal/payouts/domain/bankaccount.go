package domain

import (
	"errors"
	"time"
)

// AccountType represents the type of bank account
type AccountType string

const (
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeChecking AccountType = "CHECKING"
)

// DocumentType identifies the holder's identity document
type DocumentType string

const (
	DocumentNationalID DocumentType = "national-id"
	DocumentForeignID  DocumentType = "foreign-id"
	DocumentTaxID      DocumentType = "tax-id"
	DocumentPassport   DocumentType = "passport"
)

// BankAccount is a vendor-declared payout destination. At most one account
// per vendor is active at any time; verification is admin-controlled and
// independent of activation.
type BankAccount struct {
	ID             string       `json:"id"`
	VendorID       string       `json:"vendor_id"`
	BankName       string       `json:"bank_name"`
	AccountType    AccountType  `json:"account_type"`
	AccountNumber  string       `json:"account_number"`
	HolderName     string       `json:"holder_name"`
	HolderDocument string       `json:"holder_document"`
	DocumentType   DocumentType `json:"document_type"`
	IsActive       bool         `json:"is_active"`
	IsVerified     bool         `json:"is_verified"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewBankAccount creates a new bank account. New accounts start active and
// unverified; the store deactivates any sibling account in the same write.
func NewBankAccount(id, vendorID, bankName, accountNumber, holderName, holderDocument string, accountType AccountType, documentType DocumentType) (*BankAccount, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if vendorID == "" {
		return nil, errors.New("vendor_id is required")
	}
	if bankName == "" {
		return nil, errors.New("bank_name is required")
	}
	if accountNumber == "" {
		return nil, errors.New("account_number is required")
	}
	if holderName == "" {
		return nil, errors.New("holder_name is required")
	}
	if holderDocument == "" {
		return nil, errors.New("holder_document is required")
	}
	if !accountType.Valid() {
		return nil, errors.New("invalid account_type")
	}
	if !documentType.Valid() {
		return nil, errors.New("invalid document_type")
	}

	now := time.Now().UTC()
	return &BankAccount{
		ID:             id,
		VendorID:       vendorID,
		BankName:       bankName,
		AccountType:    accountType,
		AccountNumber:  accountNumber,
		HolderName:     holderName,
		HolderDocument: holderDocument,
		DocumentType:   documentType,
		IsActive:       true,
		IsVerified:     false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Valid reports whether the account type is recognized
func (t AccountType) Valid() bool {
	return t == AccountTypeSavings || t == AccountTypeChecking
}

// Valid reports whether the document type is recognized
func (t DocumentType) Valid() bool {
	switch t {
	case DocumentNationalID, DocumentForeignID, DocumentTaxID, DocumentPassport:
		return true
	}
	return false
}

// CanReceivePayouts reports whether this account is a valid payout destination
func (a *BankAccount) CanReceivePayouts() bool {
	return a.IsActive && a.IsVerified
}
