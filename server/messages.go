package server

import "github.com/chazu/yarvil/config"

// TranslateRequest asks for one method to be translated.
type TranslateRequest struct {
	// Iseq is the method in the yarv CBOR wire format.
	Iseq []byte `cbor:"iseq"`

	// Translator replaces the server's translator options when set.
	Translator *config.Translator `cbor:"translator,omitempty"`

	LowerAsyncChecks bool `cbor:"lower_asyncchecks,omitempty"`
	Verify           bool `cbor:"verify,omitempty"`
	WantDot          bool `cbor:"want_dot,omitempty"`
}

// TranslateResponse reports one translation. A method the translator
// declines is a successful call with Success false.
type TranslateResponse struct {
	Success      bool   `cbor:"success"`
	Signature    string `cbor:"signature"`
	SessionID    string `cbor:"session_id,omitempty"`
	AbortReason  string `cbor:"abort_reason,omitempty"`
	ErrorMessage string `cbor:"error_message,omitempty"`

	EntryTargets []int  `cbor:"entry_targets,omitempty"`
	AsyncChecks  int    `cbor:"asyncchecks,omitempty"`
	Dump         string `cbor:"dump,omitempty"`
	Dot          string `cbor:"dot,omitempty"`

	Counters map[string]uint64 `cbor:"counters,omitempty"`
}

// CountersRequest asks for the counters accumulated by the server.
type CountersRequest struct {
	Reset bool `cbor:"reset,omitempty"`
}

// CountersResponse carries a counter snapshot.
type CountersResponse struct {
	Counters map[string]uint64 `cbor:"counters"`
}
