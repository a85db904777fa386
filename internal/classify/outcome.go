package classify

import (
	"fmt"
	"strings"
)

// Outcome is the category assigned to exactly one completed request attempt.
type Outcome uint8

const (
	Success Outcome = iota
	ExpectedClientError
	CircuitOpen
	ResourcePoolExhausted
	ServiceUnavailableOther
	UnexpectedError
	TransportFailure

	NumOutcomes = int(TransportFailure) + 1
)

var outcomeNames = [NumOutcomes]string{
	Success:                 "success",
	ExpectedClientError:     "expected_client_error",
	CircuitOpen:             "circuit_open",
	ResourcePoolExhausted:   "resource_pool_exhausted",
	ServiceUnavailableOther: "service_unavailable_other",
	UnexpectedError:         "unexpected_error",
	TransportFailure:        "transport_failure",
}

func (o Outcome) String() string {
	if int(o) < NumOutcomes {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

func (o Outcome) Valid() bool {
	return int(o) < NumOutcomes
}

// AllOutcomes lists every category in declaration order.
func AllOutcomes() []Outcome {
	out := make([]Outcome, NumOutcomes)
	for i := range out {
		out[i] = Outcome(i)
	}
	return out
}

// ParseOutcome accepts the snake_case name, case-insensitively. CamelCase
// names ("CircuitOpen") are accepted too.
func ParseOutcome(s string) (Outcome, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, name := range outcomeNames {
		if norm == name || norm == strings.ReplaceAll(name, "_", "") {
			return Outcome(i), nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("invalid outcome %d", uint8(o))
	}
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
