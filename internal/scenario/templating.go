package scenario

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
)

// TemplateEngine renders the string fields of request templates. Parsed
// templates are cached by source text, so a field is parsed once per engine.
//
// An engine from WithRand draws every random value from its source and must
// stay on one goroutine; the base engine uses the global source and is safe
// to share.
type TemplateEngine struct {
	lines   *lineCache
	parsed  map[string]*template.Template
	mu      sync.RWMutex
	funcMap template.FuncMap
	rng     *rand.Rand
}

// lineCache holds randomLine files, shared by an engine and its WithRand copies.
type lineCache struct {
	mu    sync.RWMutex
	files map[string][]string
}

// TemplateData is what a field template can reference.
type TemplateData struct {
	UserID   string
	UUID     string
	Scenario string
	Worker   int
}

func NewTemplateEngine() *TemplateEngine {
	return newEngine(&lineCache{files: make(map[string][]string)}, nil)
}

func newEngine(lines *lineCache, rng *rand.Rand) *TemplateEngine {
	e := &TemplateEngine{
		lines:  lines,
		parsed: make(map[string]*template.Template),
		rng:    rng,
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.UUID,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
		"uuid":         e.UUID,
	}

	return e
}

// WithRand returns an engine that shares e's file cache and takes its
// randomness from rng, so a seeded worker renders a reproducible sequence.
func (e *TemplateEngine) WithRand(rng *rand.Rand) *TemplateEngine {
	return newEngine(e.lines, rng)
}

// Preprocess rewrites the shorthand variables ({{userID}}, {{uuid}},
// {{requestID}}, {{scenario}}) into field references.
func (e *TemplateEngine) Preprocess(input string) string {
	s := input
	s = strings.ReplaceAll(s, "{{userID}}", "{{.UserID}}")
	s = strings.ReplaceAll(s, "{{uuid}}", "{{.UUID}}")
	s = strings.ReplaceAll(s, "{{requestID}}", "{{.UUID}}")
	s = strings.ReplaceAll(s, "{{scenario}}", "{{.Scenario}}")
	return s
}

func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	readyText := e.Preprocess(text)
	return template.New(name).Funcs(e.funcMap).Parse(readyText)
}

func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("template %s: %w", t.Name(), err)
	}
	return sb.String(), nil
}

// Render parses text once and executes it. Plain strings skip the template
// machinery entirely.
func (e *TemplateEngine) Render(text string, data TemplateData) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	e.mu.RLock()
	t, ok := e.parsed[text]
	e.mu.RUnlock()

	if !ok {
		var err error
		t, err = e.Parse("field", text)
		if err != nil {
			return "", err
		}
		e.mu.Lock()
		e.parsed[text] = t
		e.mu.Unlock()
	}
	return e.Execute(t, data)
}

// Check reports a parse error in text without executing it.
func (e *TemplateEngine) Check(text string) error {
	if !strings.Contains(text, "{{") {
		return nil
	}
	_, err := e.Parse("check", text)
	return err
}

func (e *TemplateEngine) intN(n int) int {
	if e.rng != nil {
		return e.rng.IntN(n)
	}
	return rand.IntN(n)
}

func (e *TemplateEngine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return min + e.intN(max-min)
}

// UUID returns a version 4 UUID, drawn from the engine's source when it has one.
func (e *TemplateEngine) UUID() string {
	if e.rng == nil {
		return uuid.NewString()
	}
	var u uuid.UUID
	binary.LittleEndian.PutUint64(u[:8], e.rng.Uint64())
	binary.LittleEndian.PutUint64(u[8:], e.rng.Uint64())
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return u.String()
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	return e.pick(choices)
}

// randomLine returns a random non-blank line of filename. Files are read once
// and kept for the life of the engine.
func (e *TemplateEngine) randomLine(filename string) (string, error) {
	c := e.lines
	c.mu.RLock()
	lines, ok := c.files[filename]
	c.mu.RUnlock()
	if ok {
		return e.pick(lines), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lines, ok = c.files[filename]; !ok {
		var err error
		if lines, err = readLines(filename); err != nil {
			return "", err
		}
		c.files[filename] = lines
	}
	return e.pick(lines), nil
}

func readLines(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("template: randomLine %q: %w", filename, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func (e *TemplateEngine) pick(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[e.intN(len(items))]
}
