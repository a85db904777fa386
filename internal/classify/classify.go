package classify

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrBadStatus    = errors.New("invalid status code set entry")
	ErrBadSignature = errors.New("invalid body signature")
)

type statusRange struct {
	lo, hi int
}

// StatusSet is a union of inclusive status code ranges.
type StatusSet struct {
	ranges []statusRange
	spec   []string
}

// ParseStatusSet accepts entries like "2xx", "503" or "500-504".
func ParseStatusSet(entries ...string) (StatusSet, error) {
	var s StatusSet
	for _, raw := range entries {
		e := strings.ToLower(strings.TrimSpace(raw))
		if e == "" {
			continue
		}

		var r statusRange
		switch {
		case len(e) == 3 && strings.HasSuffix(e, "xx"):
			d, err := strconv.Atoi(e[:1])
			if err != nil || d < 1 || d > 5 {
				return StatusSet{}, fmt.Errorf("%w: %q", ErrBadStatus, raw)
			}
			r = statusRange{lo: d * 100, hi: d*100 + 99}
		case strings.Contains(e, "-"):
			parts := strings.SplitN(e, "-", 2)
			lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil || lo > hi {
				return StatusSet{}, fmt.Errorf("%w: %q", ErrBadStatus, raw)
			}
			r = statusRange{lo: lo, hi: hi}
		default:
			code, err := strconv.Atoi(e)
			if err != nil {
				return StatusSet{}, fmt.Errorf("%w: %q", ErrBadStatus, raw)
			}
			r = statusRange{lo: code, hi: code}
		}
		if r.lo < 100 || r.hi > 599 {
			return StatusSet{}, fmt.Errorf("%w: %q out of range", ErrBadStatus, raw)
		}
		s.ranges = append(s.ranges, r)
		s.spec = append(s.spec, e)
	}
	return s, nil
}

// MustStatusSet is ParseStatusSet for literals known to be valid.
func MustStatusSet(entries ...string) StatusSet {
	s, err := ParseStatusSet(entries...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s StatusSet) Contains(code int) bool {
	for _, r := range s.ranges {
		if code >= r.lo && code <= r.hi {
			return true
		}
	}
	return false
}

func (s StatusSet) Empty() bool {
	return len(s.ranges) == 0
}

func (s StatusSet) String() string {
	return strings.Join(s.spec, ",")
}

// Signature maps a literal body token to the outcome it indicates for a
// service-unavailable response.
type Signature struct {
	Token   string
	Outcome Outcome
}

// Rules configures the classifier.
type Rules struct {
	Success     StatusSet
	ClientError StatusSet
	Unavailable StatusSet
	Signatures  []Signature
}

// DefaultRules match the project-config service's resilience responses.
func DefaultRules() Rules {
	return Rules{
		Success:     MustStatusSet("2xx"),
		ClientError: MustStatusSet("400"),
		Unavailable: MustStatusSet("503"),
		Signatures: []Signature{
			{Token: "circuit breaker", Outcome: CircuitOpen},
			{Token: "bulkhead", Outcome: ResourcePoolExhausted},
		},
	}
}

// Classifier maps a response to an Outcome. It is immutable and safe for
// concurrent use.
//
// Body signatures are a heuristic over free-text error messages: they only
// work as long as the target keeps its wording, which is why the tokens are
// configuration rather than constants.
type Classifier struct {
	rules   Rules
	circuit []string
	pool    []string
}

func NewClassifier(rules Rules) (*Classifier, error) {
	c := &Classifier{rules: rules}
	for _, sig := range rules.Signatures {
		if sig.Token == "" {
			return nil, fmt.Errorf("%w: empty token", ErrBadSignature)
		}
		switch sig.Outcome {
		case CircuitOpen:
			c.circuit = append(c.circuit, sig.Token)
		case ResourcePoolExhausted:
			c.pool = append(c.pool, sig.Token)
		default:
			return nil, fmt.Errorf("%w: token %q maps to %s, want %s or %s",
				ErrBadSignature, sig.Token, sig.Outcome, CircuitOpen, ResourcePoolExhausted)
		}
	}
	return c, nil
}

// Classify applies the rules in fixed order; the first match wins:
//
//  1. transport error
//  2. success status
//  3. expected client error status
//  4. unavailable status with a circuit breaker token
//  5. unavailable status with a resource pool token
//  6. unavailable status, no token
//  7. anything else
func (c *Classifier) Classify(status int, body string, transportErr error) Outcome {
	if transportErr != nil {
		return TransportFailure
	}
	if c.rules.Success.Contains(status) {
		return Success
	}
	if c.rules.ClientError.Contains(status) {
		return ExpectedClientError
	}
	if c.rules.Unavailable.Contains(status) {
		if containsAny(body, c.circuit) {
			return CircuitOpen
		}
		if containsAny(body, c.pool) {
			return ResourcePoolExhausted
		}
		return ServiceUnavailableOther
	}
	return UnexpectedError
}

func (c *Classifier) Rules() Rules {
	return c.rules
}

func containsAny(body string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(body, t) {
			return true
		}
	}
	return false
}
