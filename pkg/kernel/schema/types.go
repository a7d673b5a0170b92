// Package schema defines the demokit/v1 runbook document types.
package schema

// API version constant for runbook documents.
const APIVersion = "demokit/v1"

// ---------------------------------------------------------------------------
// Runbook
// ---------------------------------------------------------------------------

// Runbook is the top-level demokit/v1 document: an ordered list of steps
// plus the fallback resolvers for facts those steps exchange.
type Runbook struct {
	APIVersion string             `yaml:"apiVersion"      json:"apiVersion" jsonschema:"enum=demokit/v1"`
	Meta       Meta               `yaml:"meta"            json:"meta"`
	Facts      map[string]FactDef `yaml:"facts,omitempty" json:"facts,omitempty"`
	Steps      []Step             `yaml:"steps"           json:"steps" jsonschema:"minItems=1"`
}

// Meta contains runbook metadata and seed inputs.
type Meta struct {
	Name        string              `yaml:"name"                  json:"name" jsonschema:"minLength=1"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs      map[string]InputDef `yaml:"inputs,omitempty"      json:"inputs,omitempty"`
}

// InputDef declares a seed fact supplied by the operator or config.
type InputDef struct {
	Default     string `yaml:"default,omitempty"     json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"    json:"required,omitempty"`
}

// FactDef describes how to re-derive a fact when the step that normally
// produces it was skipped.
type FactDef struct {
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Resolve     *Action `yaml:"resolve,omitempty"     json:"resolve,omitempty"`
	Extract     Extract `yaml:"extract,omitempty"     json:"extract,omitempty"`
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// Step is one unit of orchestration work.
type Step struct {
	ID        string `yaml:"id"                  json:"id" jsonschema:"minLength=1,pattern=^[A-Za-z0-9][A-Za-z0-9_.-]*$"`
	Title     string `yaml:"title,omitempty"     json:"title,omitempty"`
	Narration string `yaml:"narration,omitempty" json:"narration,omitempty"`
	When      string `yaml:"when,omitempty"      json:"when,omitempty"`

	// Optional steps ask the presenter whether to run them at all.
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty"`

	// Destructive steps pass through the confirmation gate first. A declined
	// confirmation skips the step, or aborts the run when Mandatory is set.
	Destructive bool           `yaml:"destructive,omitempty" json:"destructive,omitempty"`
	Mandatory   bool           `yaml:"mandatory,omitempty"   json:"mandatory,omitempty"`
	Confirm     []ConfirmStage `yaml:"confirm,omitempty"     json:"confirm,omitempty"`

	Requires []string           `yaml:"requires,omitempty" json:"requires,omitempty"`
	Action   *Action            `yaml:"action,omitempty"   json:"action,omitempty"`
	Verify   *Action            `yaml:"verify,omitempty"   json:"verify,omitempty"`
	Produces map[string]Extract `yaml:"produces,omitempty" json:"produces,omitempty"`
}

// DisplayName returns the title, falling back to the ID.
func (s *Step) DisplayName() string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

// ConfirmStage is one prompt of a confirmation sequence. With a Phrase the
// operator must type it exactly; without one the stage is a yes/no question.
type ConfirmStage struct {
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Phrase string `yaml:"phrase,omitempty" json:"phrase,omitempty"`
}

// Extract maps action output to a fact value.
type Extract struct {
	From    string `yaml:"from,omitempty"    json:"from,omitempty" jsonschema:"enum=stdout,enum=stderr,enum=json"`
	Path    string `yaml:"path,omitempty"    json:"path,omitempty"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// ActionKind enumerates the action transports.
type ActionKind string

const (
	ActionKube  ActionKind = "kube"
	ActionHelm  ActionKind = "helm"
	ActionExec  ActionKind = "exec"
	ActionShell ActionKind = "shell"
	ActionHTTP  ActionKind = "http"
	ActionPause ActionKind = "pause"
)

// Action is the external work a step performs. Exactly one field is set.
type Action struct {
	Kube    *KubeAction `yaml:"kube,omitempty"    json:"kube,omitempty"`
	Helm    *HelmAction `yaml:"helm,omitempty"    json:"helm,omitempty"`
	Exec    *ExecAction `yaml:"exec,omitempty"    json:"exec,omitempty"`
	Shell   string      `yaml:"shell,omitempty"   json:"shell,omitempty"`
	HTTP    *HTTPAction `yaml:"http,omitempty"    json:"http,omitempty"`
	Pause   string      `yaml:"pause,omitempty"   json:"pause,omitempty"`
	Timeout string      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Kinds returns every kind set on the action, in declaration order.
func (a *Action) Kinds() []ActionKind {
	var kinds []ActionKind
	if a.Kube != nil {
		kinds = append(kinds, ActionKube)
	}
	if a.Helm != nil {
		kinds = append(kinds, ActionHelm)
	}
	if a.Exec != nil {
		kinds = append(kinds, ActionExec)
	}
	if a.Shell != "" {
		kinds = append(kinds, ActionShell)
	}
	if a.HTTP != nil {
		kinds = append(kinds, ActionHTTP)
	}
	if a.Pause != "" {
		kinds = append(kinds, ActionPause)
	}
	return kinds
}

// Kind returns the single kind of the action, or "" when zero or several
// kinds are set.
func (a *Action) Kind() ActionKind {
	kinds := a.Kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Kube verbs.
const (
	KubeGet    = "get"
	KubeExists = "exists"
	KubeApply  = "apply"
	KubeDelete = "delete"
	KubePatch  = "patch"
	KubeWait   = "wait"
)

// KubeAction is a typed Kubernetes API call.
type KubeAction struct {
	Verb       string   `yaml:"verb"                 json:"verb" jsonschema:"enum=get,enum=exists,enum=apply,enum=delete,enum=patch,enum=wait"`
	APIVersion string   `yaml:"apiVersion,omitempty" json:"apiVersion,omitempty"`
	Kind       string   `yaml:"kind,omitempty"       json:"kind,omitempty"`
	Name       string   `yaml:"name,omitempty"       json:"name,omitempty"`
	Namespace  string   `yaml:"namespace,omitempty"  json:"namespace,omitempty"`
	Manifests  []string `yaml:"manifests,omitempty"  json:"manifests,omitempty"`
	JSONPath   string   `yaml:"jsonpath,omitempty"   json:"jsonpath,omitempty"`
	Patch      string   `yaml:"patch,omitempty"      json:"patch,omitempty"`
	Equals     string   `yaml:"equals,omitempty"     json:"equals,omitempty"`
	Interval   string   `yaml:"interval,omitempty"   json:"interval,omitempty"`

	// Vars expand templates inside manifest files. Filled in when the
	// action is resolved; never read from a document.
	Vars map[string]any `yaml:"-" json:"-"`
}

// Helm verbs.
const (
	HelmInstall   = "install"
	HelmUninstall = "uninstall"
	HelmRepoAdd   = "repo-add"
)

// HelmAction drives the helm CLI.
type HelmAction struct {
	Verb            string            `yaml:"verb"                       json:"verb" jsonschema:"enum=install,enum=uninstall,enum=repo-add"`
	Release         string            `yaml:"release,omitempty"          json:"release,omitempty"`
	Chart           string            `yaml:"chart,omitempty"            json:"chart,omitempty"`
	Version         string            `yaml:"version,omitempty"          json:"version,omitempty"`
	Namespace       string            `yaml:"namespace,omitempty"        json:"namespace,omitempty"`
	Repo            string            `yaml:"repo,omitempty"             json:"repo,omitempty"`
	URL             string            `yaml:"url,omitempty"              json:"url,omitempty"`
	Values          []string          `yaml:"values,omitempty"           json:"values,omitempty"`
	Set             map[string]string `yaml:"set,omitempty"              json:"set,omitempty"`
	CreateNamespace bool              `yaml:"create_namespace,omitempty" json:"create_namespace,omitempty"`
	Wait            bool              `yaml:"wait,omitempty"             json:"wait,omitempty"`
}

// ExecAction spawns a process directly, without a shell.
type ExecAction struct {
	Argv []string          `yaml:"argv,omitempty" json:"argv,omitempty"`
	Run  string            `yaml:"run,omitempty"  json:"run,omitempty"`
	Dir  string            `yaml:"dir,omitempty"  json:"dir,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"  json:"env,omitempty"`
}

// HTTPAction checks an HTTP endpoint.
type HTTPAction struct {
	URL          string            `yaml:"url"                     json:"url" jsonschema:"minLength=1"`
	Method       string            `yaml:"method,omitempty"        json:"method,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"       json:"headers,omitempty"`
	Body         string            `yaml:"body,omitempty"          json:"body,omitempty"`
	ExpectStatus int               `yaml:"expect_status,omitempty" json:"expect_status,omitempty"`
	Insecure     bool              `yaml:"insecure,omitempty"      json:"insecure,omitempty"`
}
