// Package scan fetches a single log artifact by URI and scans it line by
// line for a diagnostic pattern, under a hard size cap. Each scan produces
// exactly one Outcome; failures are values here, never propagated errors,
// so one bad artifact cannot take down a sweep.
package scan

import "fmt"

type Verdict uint8

const (
	// Matched means a line containing the pattern was found.
	Matched Verdict = 1
	// NoMatch means the artifact was read to the end without a hit.
	NoMatch Verdict = 2
	// SkippedMalformedURI means the URI failed validation before any I/O.
	SkippedMalformedURI Verdict = 3
	// SkippedTooLarge means the artifact exceeded the byte cap.
	SkippedTooLarge Verdict = 4
	// FetchFailed means transport, timeout, or scan-time failure.
	FetchFailed Verdict = 5
)

func (v Verdict) String() string {
	switch v {
	case Matched:
		return "matched"
	case NoMatch:
		return "no_match"
	case SkippedMalformedURI:
		return "skipped_malformed_uri"
	case SkippedTooLarge:
		return "skipped_too_large"
	case FetchFailed:
		return "fetch_failed"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// Outcome is the result of scanning one artifact. Line is set only when
// Verdict is Matched; Err only when Verdict is FetchFailed.
type Outcome struct {
	URI     string
	Verdict Verdict
	Line    string
	Err     error
}

func matched(uri, line string) Outcome {
	return Outcome{URI: uri, Verdict: Matched, Line: line}
}

func noMatch(uri string) Outcome {
	return Outcome{URI: uri, Verdict: NoMatch}
}

func skippedMalformed(uri string) Outcome {
	return Outcome{URI: uri, Verdict: SkippedMalformedURI}
}

func skippedTooLarge(uri string) Outcome {
	return Outcome{URI: uri, Verdict: SkippedTooLarge}
}

func fetchFailed(uri string, err error) Outcome {
	return Outcome{URI: uri, Verdict: FetchFailed, Err: err}
}
