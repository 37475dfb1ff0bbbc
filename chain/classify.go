package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Kind classifies a provider failure before any retry decision is made.
// The scanner never inspects raw provider errors directly.
type Kind int

const (
	// KindUnknown is any unclassified failure; it escapes the worker and
	// triggers a supervised restart
	KindUnknown Kind = iota

	// KindRangeTooLarge means the provider rejected the block window; the
	// worker halves the window and retries the same range
	KindRangeTooLarge

	// KindRateLimited means the provider is throttling; treated like a
	// too-large window so the next attempt asks for less
	KindRateLimited

	// KindBenign covers known-harmless provider quirks (stale filter
	// handles, occasional malformed responses); logged and skipped,
	// never alerted
	KindBenign
)

// String returns the kind name for log output
func (k Kind) String() string {
	switch k {
	case KindRangeTooLarge:
		return "range_too_large"
	case KindRateLimited:
		return "rate_limited"
	case KindBenign:
		return "benign"
	}
	return "unknown"
}

// Provider error codes with well-known meanings
const (
	codeFilterNotFound = -32000
	codeLimitExceeded  = -32005
)

var rangeTooLargeSignatures = []string{
	"query returned more than",
	"block range is too large",
	"range too large",
	"exceed maximum block range",
	"limit exceeded",
}

var rateLimitedSignatures = []string{
	"too many requests",
	"rate limit",
	"429",
}

var benignSignatures = []string{
	"filter not found",
	"invalid character",
	"unexpected eof",
	"cannot unmarshal",
}

// Classify maps a raw provider failure into an explicit error kind
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	msg := strings.ToLower(err.Error())

	if rpcErr, ok := err.(rpc.Error); ok {
		switch rpcErr.ErrorCode() {
		case codeLimitExceeded:
			return KindRangeTooLarge
		case codeFilterNotFound:
			if strings.Contains(msg, "filter not found") {
				return KindBenign
			}
		}
	}

	for _, sig := range rangeTooLargeSignatures {
		if strings.Contains(msg, sig) {
			return KindRangeTooLarge
		}
	}
	for _, sig := range rateLimitedSignatures {
		if strings.Contains(msg, sig) {
			return KindRateLimited
		}
	}
	for _, sig := range benignSignatures {
		if strings.Contains(msg, sig) {
			return KindBenign
		}
	}

	return KindUnknown
}
