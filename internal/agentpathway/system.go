package agentpathway

import (
	"fmt"
	"strings"
	"time"

	"github.com/cortexd/runtime/pkg/models"
)

// assembleSystemPrompt builds one turn's system prompt from the common
// instruction block, the entity's own identity, the continuity
// context window, the current date/time, and a one-line workspace
// summary when the entity has a workspace attached.
func assembleSystemPrompt(entity *models.Entity, contextWindow string, cfg Config, now time.Time) string {
	var b strings.Builder

	b.WriteString(commonInstructions(cfg))
	b.WriteString("\n\n")

	b.WriteString("## Identity\n")
	if entity.Identity != "" {
		b.WriteString(entity.Identity)
	} else {
		b.WriteString(fmt.Sprintf("You are %s.", entity.Name))
	}
	b.WriteString("\n\n")

	if contextWindow != "" {
		b.WriteString(contextWindow)
		b.WriteString("\n\n")
	}

	b.WriteString(fmt.Sprintf("## Current Time\n%s\n", now.Format(time.RFC1123)))

	if summary := workspaceSummary(entity); summary != "" {
		b.WriteString("\n## Available Files\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func commonInstructions(cfg Config) string {
	if cfg.VoiceShaped {
		return cfg.CommonInstructions + " You are speaking aloud over a live voice call: keep replies brief, natural, and easy to follow without visual formatting."
	}
	return cfg.CommonInstructions
}

func workspaceSummary(entity *models.Entity) string {
	if entity.Workspace == nil {
		return ""
	}
	return fmt.Sprintf("A %s workspace (%s) is attached; use the workspace tools to inspect its contents before assuming a file exists.", entity.Workspace.Kind, entity.Workspace.ID)
}
