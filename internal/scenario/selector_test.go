package scenario

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScenarios() []Scenario {
	return []Scenario{
		{Name: "valid-jira", Weight: 50, Template: JiraTemplate{HostURL: "https://jira.atlassian.com", APIToken: "valid-token-simulation"}},
		{Name: "invalid-auth", Weight: 20, Template: JiraTemplate{HostURL: "https://jira.atlassian.com", APIToken: "invalid-token"}},
		{Name: "slow-upstream", Weight: 20, Template: GitHubTemplate{RepoURL: "https://api.github.com/repos/octocat/Hello-World", AccessToken: "slow-simulation"}},
		{Name: "service-unavailable", Weight: 10, Template: JiraTemplate{HostURL: "https://api.github.com/repos/nonexistent/repo", APIToken: "503-simulation"}},
	}
}

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func TestSelector_Proportionality(t *testing.T) {
	sel, err := NewSelector(testScenarios())
	require.NoError(t, err)

	const n = 200000
	src := rand.New(rand.NewPCG(42, 1337))
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		counts[sel.Draw(src).Name]++
	}

	// Chi-square goodness of fit, 3 degrees of freedom. 16.27 is the
	// critical value at p = 0.001.
	var chi2 float64
	for _, sc := range sel.Scenarios() {
		expected := n * sel.Probability(sc.Name)
		diff := float64(counts[sc.Name]) - expected
		chi2 += diff * diff / expected
	}
	assert.Less(t, chi2, 16.27, "counts=%v", counts)
}

func TestSelector_PickBoundaries(t *testing.T) {
	sel, err := NewSelector(testScenarios())
	require.NoError(t, err)

	tests := []struct {
		u    float64
		want string
	}{
		{0, "valid-jira"},
		{0.4999, "valid-jira"},
		{0.5, "valid-jira"},
		{0.5001, "invalid-auth"},
		{0.69, "invalid-auth"},
		{0.85, "slow-upstream"},
		{0.95, "service-unavailable"},
		{0.99999, "service-unavailable"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sel.Pick(tt.u).Name, "u=%v", tt.u)
		assert.Equal(t, tt.want, sel.Draw(fixedSource(tt.u)).Name, "u=%v", tt.u)
	}
}

func TestSelector_FallsBackToFirst(t *testing.T) {
	sel, err := NewSelector(testScenarios())
	require.NoError(t, err)

	// A source outside [0, 1) leaves a positive remainder after the scan.
	assert.Equal(t, "valid-jira", sel.Pick(1.5).Name)
}

func TestNewSelector_Errors(t *testing.T) {
	_, err := NewSelector(nil)
	assert.ErrorIs(t, err, ErrNoScenarios)

	tmpl := RawTemplate{}
	_, err = NewSelector([]Scenario{{Name: "a", Weight: 0, Template: tmpl}})
	assert.ErrorIs(t, err, ErrInvalidWeight)

	_, err = NewSelector([]Scenario{{Name: "a", Weight: -1, Template: tmpl}})
	assert.ErrorIs(t, err, ErrInvalidWeight)

	_, err = NewSelector([]Scenario{{Name: "a", Weight: 1, Template: tmpl}, {Name: "a", Weight: 1, Template: tmpl}})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = NewSelector([]Scenario{{Weight: 1, Template: tmpl}})
	assert.ErrorIs(t, err, ErrMissingName)

	_, err = NewSelector([]Scenario{{Name: "a", Weight: 1}})
	assert.ErrorIs(t, err, ErrMissingPayload)
}

func TestSelector_DefaultsMethodAndCopies(t *testing.T) {
	in := testScenarios()
	sel, err := NewSelector(in)
	require.NoError(t, err)

	in[0].Weight = 1000
	assert.InDelta(t, 0.5, sel.Probability("valid-jira"), 1e-9)
	assert.Equal(t, 0.0, sel.Probability("missing"))
	assert.Equal(t, "POST", sel.Scenarios()[0].Method)
	assert.Equal(t, []string{"valid-jira", "invalid-auth", "slow-upstream", "service-unavailable"}, sel.Names())
	assert.Equal(t, 100.0, sel.TotalWeight())
}

func TestJiraTemplate_Render(t *testing.T) {
	e := NewTemplateEngine()
	tmpl := JiraTemplate{
		ProjectName: "LoadTest-{{scenario}}",
		GroupID:     1,
		HostURL:     "https://jira.atlassian.com",
		APIToken:    "valid-token-simulation",
		Email:       "test@example.com",
	}
	require.NoError(t, tmpl.Validate(e))

	body, err := tmpl.Render(e, TemplateData{Scenario: "valid-jira"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "LoadTest-valid-jira", got["projectName"])
	assert.EqualValues(t, 1, got["groupId"])
	assert.Equal(t, map[string]any{
		"hostUrl":  "https://jira.atlassian.com",
		"apiToken": "valid-token-simulation",
		"email":    "test@example.com",
	}, got["jira"])
}

func TestGitHubTemplate_RenderWithFunctions(t *testing.T) {
	e := NewTemplateEngine()
	tmpl := GitHubTemplate{
		ProjectName: "p-{{uuid}}",
		RepoURL:     "https://api.github.com/repos/octocat/Hello-World",
		AccessToken: `{{randomChoice "slow-simulation"}}`,
	}
	require.NoError(t, tmpl.Validate(e))

	body, err := tmpl.Render(e, TemplateData{UUID: uuid.NewString()})
	require.NoError(t, err)

	var got struct {
		ProjectName string `json:"projectName"`
		GitHub      struct {
			AccessToken string `json:"accessToken"`
		} `json:"github"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	_, err = uuid.Parse(got.ProjectName[2:])
	assert.NoError(t, err)
	assert.Equal(t, "slow-simulation", got.GitHub.AccessToken)
}

func TestTemplate_Validate(t *testing.T) {
	e := NewTemplateEngine()
	assert.ErrorIs(t, JiraTemplate{HostURL: "x"}.Validate(e), ErrInvalidTemplate)
	assert.ErrorIs(t, GitHubTemplate{RepoURL: "x"}.Validate(e), ErrInvalidTemplate)
	assert.ErrorIs(t, RawTemplate{Body: "{{ .Broken"}.Validate(e), ErrInvalidTemplate)
	assert.NoError(t, RawTemplate{}.Validate(e))
}

func TestRawTemplate_Render(t *testing.T) {
	e := NewTemplateEngine()

	body, err := RawTemplate{Body: `{"n": {{randomInt 5 6}}}`}.Render(e, TemplateData{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 5}`, string(body))

	body, err = RawTemplate{}.Render(e, TemplateData{})
	require.NoError(t, err)
	assert.Nil(t, body)

	assert.Equal(t, "text/plain", RawTemplate{Type: "text/plain"}.ContentType())
	assert.Equal(t, "application/json", RawTemplate{}.ContentType())
}
