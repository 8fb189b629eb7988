package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/internal/segment"
)

// SegmentSummarizer condenses a closed conversation segment with the
// generation backend. Any failure surfaces as an error so the caller's
// concatenation fallback takes over.
type SegmentSummarizer struct {
	gen    Generator
	logger *log.Logger
}

// NewSegmentSummarizer constructs a summarizer over gen.
func NewSegmentSummarizer(gen Generator, logger *log.Logger) *SegmentSummarizer {
	return &SegmentSummarizer{gen: gen, logger: logger}
}

// Summarize asks the model for a titled summary of the segment's turns.
func (s *SegmentSummarizer) Summarize(ctx context.Context, turns []segment.Turn) (segment.Summary, error) {
	var b strings.Builder
	b.WriteString("Resuma o trecho de conversa abaixo em português.\n")
	b.WriteString("Responda em exatamente duas linhas, neste formato:\n")
	b.WriteString("TÍTULO: <título curto, até 8 palavras>\n")
	b.WriteString("RESUMO: <resumo em uma ou duas frases>\n\nCONVERSA:\n")
	for _, t := range turns {
		b.WriteString("Usuário: ")
		b.WriteString(t.User)
		b.WriteString("\nAgente: ")
		b.WriteString(t.Agent)
		b.WriteString("\n")
	}

	out, err := s.gen.Generate(ctx, b.String())
	if err != nil {
		s.logger.Warn("segment summary generation failed", "error", err)
		return segment.Summary{}, err
	}

	sum, err := parseSummary(out)
	if err != nil {
		s.logger.Warn("segment summary unparseable", "error", err)
		return segment.Summary{}, err
	}
	return sum, nil
}

// parseSummary extracts the labeled title and summary lines. Label casing
// and accents vary between models, so both are matched loosely.
func parseSummary(out string) (segment.Summary, error) {
	var sum segment.Summary
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "TÍTULO:") || strings.HasPrefix(upper, "TITULO:"):
			sum.Title = strings.TrimSpace(line[strings.Index(line, ":")+1:])
		case strings.HasPrefix(upper, "RESUMO:"):
			sum.Summary = strings.TrimSpace(line[strings.Index(line, ":")+1:])
		}
	}
	if sum.Title == "" || sum.Summary == "" {
		return segment.Summary{}, fmt.Errorf("summary output missing labeled lines")
	}
	return sum, nil
}
