package memstore

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/xiy/echomem/pkg/types"
)

// Familiarity grows a little on every interaction and never shrinks. The
// stage is derived from familiarity alone so it can be recomputed after a
// schema migration.
const (
	familiarityBase   = 0.02
	longMessageBonus  = 0.03
	shortMessageBonus = 0.01
	nameMentionBonus  = 0.05
	questionBonus     = 0.02
	longMessageRunes  = 20
	maxTrackedTopics  = 20
)

var givenNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)vou\s+te\s+chamar\s+de\s+(\p{L}+)`),
	regexp.MustCompile(`(?i)te\s+chamo\s+de\s+(\p{L}+)`),
	regexp.MustCompile(`(?i)seu\s+nome\s+(?:é|eh|será|sera)\s+(\p{L}+)`),
}

var topicKeywords = []string{
	"trabalho", "família", "familia", "comida", "música", "musica",
	"filme", "série", "serie", "viagem", "saúde", "saude", "esporte",
	"futebol", "estudo", "faculdade", "jogo", "livro", "animal",
	"cachorro", "gato", "praia", "clima", "dinheiro",
}

// RecordInteraction updates relationship state from one user message.
func (s *Store) RecordInteraction(userMessage string, now time.Time) types.RelationshipState {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := strings.ToLower(userMessage)

	growth := familiarityBase
	if len([]rune(userMessage)) > longMessageRunes {
		growth += longMessageBonus
	} else {
		growth += shortMessageBonus
	}
	if s.agentName != "" && strings.Contains(lower, s.agentName) {
		growth += nameMentionBonus
	}
	if strings.Contains(userMessage, "?") {
		growth += questionBonus
	}

	s.rel.Familiarity = types.Clamp01(s.rel.Familiarity + growth)
	s.rel.Stage = stageFor(s.rel.Familiarity)
	s.rel.Interactions++
	if s.rel.FirstMeeting.IsZero() {
		s.rel.FirstMeeting = now
	}
	s.rel.LastInteraction = now
	s.rel.SchemaVersion = types.SchemaVersion

	for _, topic := range topicKeywords {
		if strings.Contains(lower, topic) {
			s.addTopicLocked(topic)
		}
	}
	for _, re := range givenNamePatterns {
		if m := re.FindStringSubmatch(userMessage); m != nil {
			s.rel.GivenName = capitalize(m[1])
			break
		}
	}

	return s.rel
}

// Relationship returns a copy of the current state.
func (s *Store) Relationship() types.RelationshipState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rel
}

// LoadRelationship seeds relationship state from persistence.
func (s *Store) LoadRelationship(rel types.RelationshipState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types.MigrateRelationship(&rel)
	rel.Stage = stageFor(rel.Familiarity)
	s.rel = rel
}

func stageFor(familiarity float64) types.RelationshipStage {
	switch {
	case familiarity >= 0.4:
		return types.StageCloseFriend
	case familiarity >= 0.2:
		return types.StageFriend
	case familiarity >= 0.05:
		return types.StageAcquaintance
	default:
		return types.StageStranger
	}
}

func (s *Store) addTopicLocked(topic string) {
	for _, t := range s.rel.Topics {
		if t == topic {
			return
		}
	}
	if len(s.rel.Topics) >= maxTrackedTopics {
		s.rel.Topics = s.rel.Topics[1:]
	}
	s.rel.Topics = append(s.rel.Topics, topic)
}

func capitalize(word string) string {
	runes := []rune(strings.ToLower(word))
	if len(runes) == 0 {
		return ""
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
