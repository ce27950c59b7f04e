package settings

const (
	ScenarioCommon = "common"
	ScenarioRetail = "retail"
)

// EndpointModel is served from a self-hosted endpoint, so turns that select
// it must name that endpoint explicitly.
const EndpointModel = "qwen2-72B-instruct"

var commonModels = []string{
	"anthropic.claude-3-sonnet-20240229-v1:0",
	"anthropic.claude-3-haiku-20240307-v1:0",
	"anthropic.claude-3-5-sonnet-20240620-v1:0",
	"meta.llama3-1-70b-instruct-v1:0",
	"mistral.mistral-large-2407-v1:0",
	"cohere.command-r-plus-v1:0",
	EndpointModel,
}

var retailModels = []string{
	"anthropic.claude-3-sonnet-20240229-v1:0",
	"anthropic.claude-3-haiku-20240307-v1:0",
	EndpointModel,
}

// Scenarios lists the entry types a turn can be submitted under.
func Scenarios() []string {
	return []string{ScenarioCommon, ScenarioRetail}
}

// IsScenario reports whether s is a known entry type.
func IsScenario(s string) bool {
	return s == ScenarioCommon || s == ScenarioRetail
}

// Models returns the suggested models for a scenario.
func Models(scenario string) []string {
	switch scenario {
	case ScenarioRetail:
		return append([]string(nil), retailModels...)
	default:
		return append([]string(nil), commonModels...)
	}
}

// RequiresEndpoint reports whether model needs an endpoint identifier.
func RequiresEndpoint(model string) bool {
	return model == EndpointModel
}
