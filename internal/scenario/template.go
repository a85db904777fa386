package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	KindJira   = "jira"
	KindGitHub = "github"
	KindRaw    = "raw"
)

var ErrInvalidTemplate = errors.New("invalid request template")

// Template is the payload family of a scenario. Each concrete type knows how
// to render its own request body; string fields may use engine functions.
type Template interface {
	Kind() string
	ContentType() string
	Validate(e *TemplateEngine) error
	Render(e *TemplateEngine, data TemplateData) ([]byte, error)
}

// JiraTemplate creates a project config verified against a Jira host.
type JiraTemplate struct {
	ProjectName string `json:"projectName" mapstructure:"project_name"`
	GroupID     int64  `json:"groupId" mapstructure:"group_id"`
	HostURL     string `json:"hostUrl" mapstructure:"host_url"`
	APIToken    string `json:"apiToken" mapstructure:"api_token"`
	Email       string `json:"email" mapstructure:"email"`
}

func (t JiraTemplate) Kind() string        { return KindJira }
func (t JiraTemplate) ContentType() string { return "application/json" }

func (t JiraTemplate) Validate(e *TemplateEngine) error {
	if t.HostURL == "" || t.APIToken == "" {
		return fmt.Errorf("%w: jira template needs host_url and api_token", ErrInvalidTemplate)
	}
	return checkFields(e, t.ProjectName, t.HostURL, t.APIToken, t.Email)
}

func (t JiraTemplate) Render(e *TemplateEngine, data TemplateData) ([]byte, error) {
	f, err := renderFields(e, data, t.ProjectName, t.HostURL, t.APIToken, t.Email)
	if err != nil {
		return nil, err
	}
	type jira struct {
		HostURL  string `json:"hostUrl"`
		APIToken string `json:"apiToken"`
		Email    string `json:"email,omitempty"`
	}
	return json.Marshal(struct {
		ProjectName string `json:"projectName"`
		GroupID     int64  `json:"groupId"`
		Jira        jira   `json:"jira"`
	}{
		ProjectName: f[0],
		GroupID:     t.GroupID,
		Jira:        jira{HostURL: f[1], APIToken: f[2], Email: f[3]},
	})
}

// GitHubTemplate creates a project config verified against a GitHub repository.
type GitHubTemplate struct {
	ProjectName string `json:"projectName" mapstructure:"project_name"`
	GroupID     int64  `json:"groupId" mapstructure:"group_id"`
	RepoURL     string `json:"repoUrl" mapstructure:"repo_url"`
	AccessToken string `json:"accessToken" mapstructure:"access_token"`
}

func (t GitHubTemplate) Kind() string        { return KindGitHub }
func (t GitHubTemplate) ContentType() string { return "application/json" }

func (t GitHubTemplate) Validate(e *TemplateEngine) error {
	if t.RepoURL == "" || t.AccessToken == "" {
		return fmt.Errorf("%w: github template needs repo_url and access_token", ErrInvalidTemplate)
	}
	return checkFields(e, t.ProjectName, t.RepoURL, t.AccessToken)
}

func (t GitHubTemplate) Render(e *TemplateEngine, data TemplateData) ([]byte, error) {
	f, err := renderFields(e, data, t.ProjectName, t.RepoURL, t.AccessToken)
	if err != nil {
		return nil, err
	}
	type github struct {
		RepoURL     string `json:"repoUrl"`
		AccessToken string `json:"accessToken"`
	}
	return json.Marshal(struct {
		ProjectName string `json:"projectName"`
		GroupID     int64  `json:"groupId"`
		GitHub      github `json:"github"`
	}{
		ProjectName: f[0],
		GroupID:     t.GroupID,
		GitHub:      github{RepoURL: f[1], AccessToken: f[2]},
	})
}

// RawTemplate sends Body verbatim after template expansion.
type RawTemplate struct {
	Type string `json:"contentType" mapstructure:"content_type"`
	Body string `json:"body" mapstructure:"body"`
}

func (t RawTemplate) Kind() string { return KindRaw }

func (t RawTemplate) ContentType() string {
	if t.Type == "" {
		return "application/json"
	}
	return t.Type
}

func (t RawTemplate) Validate(e *TemplateEngine) error {
	return checkFields(e, t.Body)
}

func (t RawTemplate) Render(e *TemplateEngine, data TemplateData) ([]byte, error) {
	if t.Body == "" {
		return nil, nil
	}
	s, err := e.Render(t.Body, data)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func checkFields(e *TemplateEngine, fields ...string) error {
	for _, f := range fields {
		if err := e.Check(f); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
	}
	return nil
}

func renderFields(e *TemplateEngine, data TemplateData, fields ...string) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		s, err := e.Render(f, data)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
