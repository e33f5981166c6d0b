package model

// Status is the marketplace connection state exposed to observers.
// Values are wire-stable; the UI and the SLM service both rely on them.
type Status int

const (
	StatusNotInitialized    Status = 0
	StatusInitializing      Status = 1
	StatusConnectionFailure Status = 2
	StatusMerchant          Status = 3
	StatusNotMerchant       Status = 4
)

// String returns the human-readable label for the connection status.
func (s Status) String() string {
	switch s {
	case StatusNotInitialized:
		return "not initialized"
	case StatusInitializing:
		return "initializing"
	case StatusConnectionFailure:
		return "connection failure"
	case StatusMerchant:
		return "merchant"
	case StatusNotMerchant:
		return "not merchant"
	default:
		return "unknown"
	}
}

// ImportCode is a status code reported by the SLM bulk-import job API.
// The numeric values mirror the service's HTTP-shaped code table and must
// be preserved exactly.
type ImportCode int

const (
	ImportDone                ImportCode = 200
	ImportProcessing          ImportCode = 202
	ImportRedirect            ImportCode = 302
	ImportBadRequest          ImportCode = 400
	ImportAuthenticationError ImportCode = 401
	ImportForbidden           ImportCode = 403
	ImportNotFound            ImportCode = 404
	ImportDoneWithErrors      ImportCode = 409
	ImportJobFailed           ImportCode = 410
	ImportJobTimeout          ImportCode = 499
	ImportServerSiteDown      ImportCode = 500
	ImportServerAPIDisabled   ImportCode = 503
)

// Terminal reports whether the code ends an import job. Only these codes may
// clear the in-progress flag on the import machine.
func (c ImportCode) Terminal() bool {
	switch c {
	case ImportDone, ImportDoneWithErrors, ImportJobFailed, ImportJobTimeout:
		return true
	}
	return false
}

// Polling reports whether the code means the job is still running and the
// client should keep polling.
func (c ImportCode) Polling() bool {
	return c == ImportProcessing || c == ImportRedirect
}

// String returns a short label for logs and reports.
func (c ImportCode) String() string {
	switch c {
	case ImportDone:
		return "done"
	case ImportProcessing:
		return "processing"
	case ImportRedirect:
		return "redirect"
	case ImportBadRequest:
		return "bad request"
	case ImportAuthenticationError:
		return "authentication error"
	case ImportForbidden:
		return "forbidden"
	case ImportNotFound:
		return "not found"
	case ImportDoneWithErrors:
		return "done with errors"
	case ImportJobFailed:
		return "job failed"
	case ImportJobTimeout:
		return "job timed out"
	case ImportServerSiteDown:
		return "server site down"
	case ImportServerAPIDisabled:
		return "server api disabled"
	default:
		return "unknown"
	}
}

// Listing API codes returned by the SLM listings endpoints.
const (
	ListingSuccess          = 200
	ListingRecordCreated    = 201
	ListingMalformedPayload = 400
	ListingNotFound         = 404
)
