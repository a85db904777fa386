package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyProfile   = errors.New("ramp profile has no stages")
	ErrZeroLength     = errors.New("ramp profile total duration is zero")
	ErrNegativeStage  = errors.New("stage duration is negative")
	ErrNegativeTarget = errors.New("stage target is negative")
	ErrMalformedStage = errors.New("malformed stage")
)

// Stage holds the target concurrency for a fixed span of the run.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

func (s Stage) String() string {
	return fmt.Sprintf("%s:%d", s.Duration, s.Target)
}

// Profile is an ordered, immutable list of stages. The target is constant
// within a stage and drops to zero once the last stage has elapsed.
type Profile struct {
	stages []Stage
	ends   []time.Duration
	total  time.Duration
}

func NewProfile(stages ...Stage) (*Profile, error) {
	if len(stages) == 0 {
		return nil, ErrEmptyProfile
	}

	p := &Profile{
		stages: make([]Stage, len(stages)),
		ends:   make([]time.Duration, len(stages)),
	}
	copy(p.stages, stages)

	var end time.Duration
	for i, s := range stages {
		if s.Duration < 0 {
			return nil, fmt.Errorf("stage %d: %w", i, ErrNegativeStage)
		}
		if s.Target < 0 {
			return nil, fmt.Errorf("stage %d: %w", i, ErrNegativeTarget)
		}
		end += s.Duration
		p.ends[i] = end
	}
	if end == 0 {
		return nil, ErrZeroLength
	}
	p.total = end
	return p, nil
}

// TargetAt returns the number of workers that should be active after elapsed
// time since run start. Stage windows are half-open, so at a boundary the
// next non-empty stage wins; zero-length stages never cover an instant.
func (p *Profile) TargetAt(elapsed time.Duration) int {
	idx, ok := p.StageAt(elapsed)
	if !ok {
		return 0
	}
	return p.stages[idx].Target
}

// StageAt returns the index of the stage covering elapsed.
func (p *Profile) StageAt(elapsed time.Duration) (int, bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= p.total {
		return 0, false
	}

	var start time.Duration
	for i, end := range p.ends {
		if elapsed >= start && elapsed < end {
			return i, true
		}
		start = end
	}
	return 0, false
}

func (p *Profile) Total() time.Duration {
	return p.total
}

func (p *Profile) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// MaxTarget is the peak concurrency across all stages.
func (p *Profile) MaxTarget() int {
	max := 0
	for _, s := range p.stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// ParseStage accepts the "10s:50" shorthand used on the command line.
func ParseStage(s string) (Stage, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return Stage{}, fmt.Errorf("%w %q: want <duration>:<target>", ErrMalformedStage, s)
	}

	d, err := time.ParseDuration(strings.TrimSpace(parts[0]))
	if err != nil {
		return Stage{}, fmt.Errorf("%w %q: %v", ErrMalformedStage, s, err)
	}
	target, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Stage{}, fmt.Errorf("%w %q: %v", ErrMalformedStage, s, err)
	}
	return Stage{Duration: d, Target: target}, nil
}

func ParseStages(in []string) ([]Stage, error) {
	stages := make([]Stage, 0, len(in))
	for _, s := range in {
		st, err := ParseStage(s)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}
