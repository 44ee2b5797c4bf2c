package core

import (
	"context"
)

// AdapterKind distinguishes source adapters from destination adapters
type AdapterKind string

const (
	AdapterKindSource      AdapterKind = "source"
	AdapterKindDestination AdapterKind = "destination"
)

// Config is the opaque, string-keyed configuration of one adapter. It is
// validated only by the adapter that owns it.
type Config map[string]interface{}

// Adapter is the capability set shared by sources and destinations.
//
// ValidateConfig runs at construction time, before any network call.
// Authenticate is safe to call repeatedly and establishes a session owned by
// this adapter instance only. TestConnection never returns an error; a
// failed probe is reported in the returned ConnectionResult.
type Adapter interface {
	// Type returns the registry key of the adapter
	Type() string
	ValidateConfig() error
	Authenticate(ctx context.Context) error
	TestConnection(ctx context.Context) ConnectionResult
	Close(ctx context.Context) error
}

// Source retrieves a finite record set. Fetch authenticates first if the
// adapter has no session yet.
type Source interface {
	Adapter
	Fetch(ctx context.Context) (*FetchResult, error)
}

// Destination delivers records one create operation at a time. Upload
// authenticates first if the adapter has no session yet. Once
// authentication succeeded the aggregate is always returned; a non-nil
// error alongside it means the run was cancelled part way.
type Destination interface {
	Adapter
	Upload(ctx context.Context, records []Record) (*UploadResult, error)
}

// ConnectionStatus is the outcome of a connection probe
type ConnectionStatus string

const (
	ConnectionStatusSuccess ConnectionStatus = "success"
	ConnectionStatusError   ConnectionStatus = "error"
)

// ConnectionResult is returned by TestConnection
type ConnectionResult struct {
	Status  ConnectionStatus       `json:"status"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// OK reports whether the probe succeeded
func (r ConnectionResult) OK() bool {
	return r.Status == ConnectionStatusSuccess
}

// ConnectionOK builds a successful probe result
func ConnectionOK(message string, details map[string]interface{}) ConnectionResult {
	return ConnectionResult{Status: ConnectionStatusSuccess, Message: message, Details: details}
}

// ConnectionFailed builds a failed probe result from err
func ConnectionFailed(err error) ConnectionResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ConnectionResult{Status: ConnectionStatusError, Message: msg}
}

// SubResources are auxiliary documents fetched per record. They are keyed
// to the record by its identity and never merged into its field map.
type SubResources struct {
	History     interface{}  `json:"history,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Steps       []Record     `json:"steps,omitempty"`
}

// Empty reports whether nothing was fetched
func (s *SubResources) Empty() bool {
	return s == nil || (s.History == nil && len(s.Attachments) == 0 && len(s.Steps) == 0)
}

// Attachment is one downloaded file belonging to a record
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Data []byte `json:"-"`
}

// ItemError is one record-level failure recorded during extraction or upload
type ItemError struct {
	Index    int                    `json:"item_index"`
	SourceID string                 `json:"item_id,omitempty"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// FetchResult is the ordered output of a source run
type FetchResult struct {
	Records   []Record
	Resources map[string]*SubResources
	Errors    []ItemError
}

// CreatedRef links a created destination item to its source record
type CreatedRef struct {
	DestinationID  string `json:"destination_id"`
	DestinationKey string `json:"destination_key,omitempty"`
	SourceID       string `json:"source_id,omitempty"`
}

// UploadResult aggregates per-item upload outcomes.
// SuccessCount+ErrorCount equals the number of records attempted and
// len(Created) equals SuccessCount.
type UploadResult struct {
	SuccessCount int          `json:"success_count"`
	ErrorCount   int          `json:"error_count"`
	Created      []CreatedRef `json:"created"`
	Errors       []ItemError  `json:"errors"`
}
