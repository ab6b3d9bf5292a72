package models

import (
	"math"
	"time"
)

const microsPerUnit = 1_000_000

// Tenant is a calling application with a prepaid balance.
type Tenant struct {
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	Name          string    `json:"name" db:"name"`
	APIKeyHash    string    `json:"-" db:"api_key_hash"`
	BalanceMicros int64     `json:"balance_micros" db:"balance_micros"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

func (t *Tenant) Balance() float64 {
	return FromMicros(t.BalanceMicros)
}

func ToMicros(amount float64) int64 {
	return int64(math.Round(amount * microsPerUnit))
}

func FromMicros(micros int64) float64 {
	return float64(micros) / microsPerUnit
}

// Transaction is one billed reply in the append-only log.
type Transaction struct {
	TenantID         string    `db:"tenant_id"`
	Bucket           int       `db:"bucket"`
	TransactionID    string    `db:"transaction_id"`
	Token            string    `db:"token"`
	PhoneEncrypted   []byte    `db:"phone_encrypted"`
	PhoneKeyID       string    `db:"phone_key_id"`
	TemplateSnapshot string    `db:"template_snapshot"`
	CostMicros       int64     `db:"cost_micros"`
	CreatedAt        time.Time `db:"created_at"`
}

// BillingJob is submitted once a reply has been dispatched.
type BillingJob struct {
	JobID            string    `json:"job_id"`
	TenantID         string    `json:"tenant_id"`
	Phone            string    `json:"phone"`
	Token            string    `json:"token"`
	TemplateSnapshot string    `json:"template_snapshot"`
	Cost             float64   `json:"cost"`
	CreatedAt        time.Time `json:"created_at"`
}
