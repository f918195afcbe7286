package pathway

import (
	"fmt"

	"github.com/cortexd/runtime/pkg/models"
)

// EmulatedModel names one model the generator should synthesize a REST
// streaming pathway for.
type EmulatedModel struct {
	Name    string
	Chat    bool // emulateOpenAIChatModel
	Complete bool // emulateOpenAICompletionModel
}

// GenerateEmulationPathways synthesizes one pathway per flagged model
// that passes its input straight through to the Model Endpoint
// Adapter as a single-turn chat or completion call, and registers each
// into r so callers reach it the same way they reach any other
// pathway.
func GenerateEmulationPathways(r *Registry, models_ []EmulatedModel) []*models.Pathway {
	var generated []*models.Pathway
	for _, m := range models_ {
		if m.Chat {
			generated = append(generated, generateChatPathway(m.Name))
		}
		if m.Complete {
			generated = append(generated, generateCompletionPathway(m.Name))
		}
	}

	r.mu.Lock()
	for _, p := range generated {
		r.pathways[p.Name] = p
	}
	r.mu.Unlock()
	r.rebuildToolIndex()

	return generated
}

func generateChatPathway(model string) *models.Pathway {
	return &models.Pathway{
		Name:  fmt.Sprintf("emulated.chat.%s", model),
		Model: model,
		Prompt: []models.PromptMessage{
			{Role: "system", Content: "{{system_prompt}}"},
			{Role: "user", Content: "{{input}}"},
		},
		InputParameters: []models.InputParameter{
			{Name: "system_prompt", Type: "string", Default: ""},
			{Name: "input", Type: "string"},
		},
		EmulateOpenAIChatModel: true,
	}
}

func generateCompletionPathway(model string) *models.Pathway {
	return &models.Pathway{
		Name:  fmt.Sprintf("emulated.completion.%s", model),
		Model: model,
		Prompt: []models.PromptMessage{
			{Role: "user", Content: "{{{prompt}}}"},
		},
		InputParameters: []models.InputParameter{
			{Name: "prompt", Type: "string"},
		},
		EmulateOpenAICompletionModel: true,
	}
}
