package models

import "time"

// RawItem is one partner record as decoded from JSON or from the XML feed.
type RawItem = map[string]any

// BenefitRecord is the canonical, source-agnostic form persisted to the store.
type BenefitRecord struct {
	Source      string              `bson:"source" json:"source"`
	IdentityKey string              `bson:"identity_key" json:"identity_key"`
	FetchedAt   time.Time           `bson:"fetched_at" json:"fetched_at"`
	Title       string              `bson:"title,omitempty" json:"title,omitempty"`
	Merchant    string              `bson:"merchant,omitempty" json:"merchant,omitempty"`
	Category    string              `bson:"category,omitempty" json:"category,omitempty"`
	Discount    string              `bson:"discount,omitempty" json:"discount,omitempty"`
	Description string              `bson:"description,omitempty" json:"description,omitempty"`
	Field       map[string][]string `bson:"field,omitempty" json:"field,omitempty"`
	Raw         RawItem             `bson:"raw" json:"raw"`
}

type RunHistory struct {
	ID           string    `bson:"_id" json:"id"`
	RunID        string    `bson:"run_id" json:"run_id"`
	Source       string    `bson:"source" json:"source"`
	Collection   string    `bson:"collection" json:"collection"`
	Status       string    `bson:"status" json:"status"` // done, failed
	Stop         string    `bson:"stop,omitempty" json:"stop,omitempty"`
	Pages        int       `bson:"pages" json:"pages"`
	Collected    int       `bson:"collected" json:"collected"`
	Details      int       `bson:"details" json:"details"`
	Normalized   int       `bson:"normalized" json:"normalized"`
	Skipped      int       `bson:"skipped" json:"skipped"`
	Persisted    int       `bson:"persisted" json:"persisted"`
	PageFailures int       `bson:"page_failures" json:"page_failures"`
	StartedAt    time.Time `bson:"started_at" json:"started_at"`
	Duration     int64     `bson:"duration_ms" json:"duration_ms"`
	ErrorMessage string    `bson:"error_message,omitempty" json:"error_message,omitempty"`
}
