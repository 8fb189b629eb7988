package retrieve

import (
	"strings"

	"github.com/xiy/echomem/internal/memstore"
	"github.com/xiy/echomem/pkg/types"
)

// PromptInput carries everything BuildPrompt needs beyond the retrieval
// result itself.
type PromptInput struct {
	AgentName    string
	UserMessage  string
	Relationship types.RelationshipState
	Recent       []memstore.Episode
}

// BuildPrompt renders the final generation prompt. Section order is fixed:
// identity first, obligations before facts, the user message last so the
// model answers it directly.
func BuildPrompt(res Result, in PromptInput) string {
	var b strings.Builder

	b.WriteString("INSTRUÇÃO:\n")
	b.WriteString("Você é ")
	b.WriteString(in.AgentName)
	b.WriteString(", um companheiro de conversas em português. ")
	b.WriteString(stageInstruction(in.Relationship))
	b.WriteString(" Responda de forma curta e natural, coerente com a identidade abaixo.\n\n")

	if res.CanonText != "" {
		b.WriteString("IDENTIDADE:\n")
		b.WriteString(res.CanonText)
		b.WriteString("\n\n")
	}

	if len(res.Claims) > 0 || len(res.Commitments) > 0 {
		b.WriteString("COMPROMISSOS ATIVOS:\n")
		for _, c := range res.Claims {
			b.WriteString("- ")
			b.WriteString(c.Text)
			b.WriteString("\n")
		}
		for _, c := range res.Commitments {
			b.WriteString("- ")
			b.WriteString(c.Desc)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(res.Facts) > 0 {
		b.WriteString("FATOS IMPORTANTES:\n")
		for _, f := range res.Facts {
			b.WriteString("- ")
			b.WriteString(f.Text())
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if res.Event != nil || len(in.Recent) > 0 {
		b.WriteString("CONTEXTO RECENTE:\n")
		if res.Event != nil {
			b.WriteString(res.Event.Title)
			b.WriteString(": ")
			b.WriteString(res.Event.Summary)
			b.WriteString("\n")
		}
		for _, ep := range in.Recent {
			b.WriteString("- ")
			b.WriteString(ep.Text)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if res.Pattern != nil {
		b.WriteString("PADRÃO DE COMUNICAÇÃO:\n")
		b.WriteString("Algo nesse espírito funcionou antes (parafraseie, não repita): ")
		b.WriteString(res.Pattern.Text)
		b.WriteString("\n\n")
	}

	b.WriteString("MENSAGEM DO USUÁRIO:\n")
	b.WriteString(in.UserMessage)
	b.WriteString("\n\nRESPOSTA:")
	return b.String()
}

func stageInstruction(rel types.RelationshipState) string {
	name := ""
	if rel.GivenName != "" {
		name = " O usuário te chama de " + rel.GivenName + "."
	}
	switch rel.Stage {
	case types.StageCloseFriend:
		return "Vocês são muito próximos; fale com intimidade e memória afetiva." + name
	case types.StageFriend:
		return "Vocês já se conhecem bem; fale com familiaridade." + name
	case types.StageAcquaintance:
		return "Vocês já conversaram algumas vezes; seja caloroso sem exagerar." + name
	default:
		return "Vocês estão se conhecendo agora; seja gentil e curioso." + name
	}
}
