package a2a

// AgentCard describes an agent's capabilities per the A2A protocol.
type AgentCard struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	URL          string  `json:"url"`
	Version      string  `json:"version"`
	Skills       []Skill `json:"skills"`
	Capabilities struct {
		Streaming bool `json:"streaming"`
	} `json:"capabilities"`
}

// Skill describes a single capability of the agent.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

// TaskRequest represents an incoming A2A task request. Skill selects the
// task type.
type TaskRequest struct {
	ID    string    `json:"id,omitempty"`
	Skill string    `json:"skill"`
	Input TaskInput `json:"input"`
}

// TaskInput carries the draft to review.
type TaskInput struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Priority string   `json:"priority,omitempty"`
	Criteria []string `json:"criteria,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// TaskResponse represents an A2A task response.
type TaskResponse struct {
	ID       string         `json:"id"`
	ClientID string         `json:"client_id,omitempty"`
	Status   string         `json:"status"`           // "queued", "running", "completed", "failed", "canceled"
	Output   map[string]any `json:"output,omitempty"` //nolint:gosec // A2A protocol requires flexible output
	Error    string         `json:"error,omitempty"`
}
