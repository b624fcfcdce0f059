// Package workflow talks to the batch workflow engine: it fills spec
// templates, submits them, and reads workflow documents back. The raw
// engine document shape stays inside this package; everything else consumes
// the canonical types produced by NormalizeStatus and AggregateLogs.
package workflow

// Spec is an engine-native execution plan, loaded from the template
// catalogue and filled before submission.
type Spec struct {
	APIVersion string   `json:"apiVersion" yaml:"apiVersion"`
	Kind       string   `json:"kind" yaml:"kind"`
	Metadata   Metadata `json:"metadata" yaml:"metadata"`
	Spec       SpecBody `json:"spec" yaml:"spec"`
}

type Metadata struct {
	Name              string            `json:"name,omitempty" yaml:"name,omitempty"`
	GenerateName      string            `json:"generateName,omitempty" yaml:"generateName,omitempty"`
	Namespace         string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	CreationTimestamp string            `json:"creationTimestamp,omitempty" yaml:"creationTimestamp,omitempty"`
	Labels            map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

type SpecBody struct {
	Entrypoint string     `json:"entrypoint" yaml:"entrypoint"`
	Arguments  *Arguments `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Templates  []Template `json:"templates" yaml:"templates"`
}

type Template struct {
	Name        string     `json:"name" yaml:"name"`
	Parallelism *int       `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
	Inputs      *Inputs    `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     *Outputs   `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Container   *Container `json:"container,omitempty" yaml:"container,omitempty"`
	Steps       [][]Step   `json:"steps,omitempty" yaml:"steps,omitempty"`
}

type Step struct {
	Name      string     `json:"name" yaml:"name"`
	Template  string     `json:"template" yaml:"template"`
	Arguments *Arguments `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

type Arguments struct {
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Artifacts  []Artifact  `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

type Inputs struct {
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Artifacts  []Artifact  `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

type Outputs struct {
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Artifacts  []Artifact  `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

type Parameter struct {
	Name  string  `json:"name" yaml:"name"`
	Value *string `json:"value,omitempty" yaml:"value,omitempty"`
}

type Artifact struct {
	Name string      `json:"name" yaml:"name"`
	Path string      `json:"path,omitempty" yaml:"path,omitempty"`
	S3   *S3Location `json:"s3,omitempty" yaml:"s3,omitempty"`
}

type S3Location struct {
	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

type Container struct {
	Image     string     `json:"image" yaml:"image"`
	Command   []string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string   `json:"args,omitempty" yaml:"args,omitempty"`
	Env       []EnvVar   `json:"env,omitempty" yaml:"env,omitempty"`
	Resources *Resources `json:"resources,omitempty" yaml:"resources,omitempty"`
}

type EnvVar struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

type Resources struct {
	Limits   map[string]string `json:"limits,omitempty" yaml:"limits,omitempty"`
	Requests map[string]string `json:"requests,omitempty" yaml:"requests,omitempty"`
}

// Document is the engine's record of a submitted workflow.
type Document struct {
	Metadata Metadata       `json:"metadata"`
	Status   DocumentStatus `json:"status"`
}

type DocumentStatus struct {
	Phase      string          `json:"phase,omitempty"`
	StartedAt  string          `json:"startedAt,omitempty"`
	FinishedAt string          `json:"finishedAt,omitempty"`
	Progress   string          `json:"progress,omitempty"`
	Message    string          `json:"message,omitempty"`
	Nodes      map[string]Node `json:"nodes,omitempty"`
	Outputs    *Outputs        `json:"outputs,omitempty"`
}

// Node is one vertex of the execution graph. Only nodes with a pod name
// carry fetchable logs.
type Node struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PodName     string `json:"podName,omitempty"`
	Phase       string `json:"phase,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	FinishedAt  string `json:"finishedAt,omitempty"`
}

// Submission is what the engine reports back for an accepted workflow.
type Submission struct {
	EngineName  string
	Namespace   string
	SubmittedAt string
}
