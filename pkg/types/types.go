// Package types defines the persisted entities of the memory engine.
//
// Every struct carries a schema_version field so older persisted shapes can
// be migrated on load instead of failing deserialization.
package types

import "time"

// SchemaVersion is the current version written with every record.
const SchemaVersion = 1

// CommitmentStatus is the lifecycle state of a promise the agent made.
type CommitmentStatus string

const (
	CommitmentActive  CommitmentStatus = "active"
	CommitmentDone    CommitmentStatus = "done"
	CommitmentExpired CommitmentStatus = "expired"
)

// ABMType classifies an autobiographical memory item.
type ABMType string

const (
	ABMSelfClaim             ABMType = "self_claim"
	ABMVoice                 ABMType = "voice"
	ABMPolicy                ABMType = "policy"
	ABMTool                  ABMType = "tool"
	ABMInteractionCommitment ABMType = "interaction_commitment"
)

// ABMStatus is the lifecycle state of an autobiographical claim.
type ABMStatus string

const (
	ABMActive  ABMStatus = "active"
	ABMRevised ABMStatus = "revised"
	ABMDropped ABMStatus = "dropped"
)

// PatternContext tags where an echo pattern was used successfully.
type PatternContext string

const (
	ContextGreeting     PatternContext = "greeting"
	ContextFarewell     PatternContext = "farewell"
	ContextTransition   PatternContext = "transition"
	ContextConfirmation PatternContext = "confirmation"
	ContextQuestion     PatternContext = "question"
	ContextEmpathy      PatternContext = "empathy"
	ContextEnthusiasm   PatternContext = "enthusiasm"
	ContextApology      PatternContext = "apology"
	ContextExplanation  PatternContext = "explanation"
	ContextHumor        PatternContext = "humor"
)

// RelationshipStage is derived deterministically from familiarity.
type RelationshipStage string

const (
	StageStranger     RelationshipStage = "stranger"
	StageAcquaintance RelationshipStage = "acquaintance"
	StageFriend       RelationshipStage = "friend"
	StageCloseFriend  RelationshipStage = "close_friend"
)

// OpenLoop is an unanswered question or pending task inside an event.
type OpenLoop struct {
	Desc   string `json:"desc"`
	Status string `json:"status"` // open, closed
}

// Event is a segmented episodic record covering 3-10 conversation turns.
// Immutable once created except for salience recomputation.
type Event struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"` // <=80 chars
	Start         time.Time          `json:"start"`
	End           time.Time          `json:"end"`
	Summary       string             `json:"summary"` // <=500 chars
	Entities      []string           `json:"entities,omitempty"`
	Emotions      map[string]float64 `json:"emotions,omitempty"`
	OpenLoops     []OpenLoop         `json:"open_loops,omitempty"`
	Commitments   []string           `json:"commitments,omitempty"`
	Facts         []string           `json:"facts,omitempty"`
	Salience      float64            `json:"salience"`
	Embedding     []float32          `json:"embedding,omitempty"`
	SchemaVersion int                `json:"schema_version"`
}

// SemanticFact is a (subject, relation, object) triple with confidence
// and importance tracking.
type SemanticFact struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	Relation       string    `json:"relation"`
	Object         string    `json:"object"`
	Confidence     float64   `json:"confidence"`
	Importance     float64   `json:"importance"`
	LastReinforced time.Time `json:"last_reinforced"`
	AccessCount    int       `json:"access_count"`
	SourceEventIDs []string  `json:"source_event_ids,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	SchemaVersion  int       `json:"schema_version"`
}

// Text renders the triple as a single prompt-friendly line.
func (f SemanticFact) Text() string {
	return f.Subject + " " + f.Relation + " " + f.Object
}

// Commitment is a promise the agent made, tracked until fulfilled or expired.
// Reactivations is strictly ascending; entries are popped once due.
type Commitment struct {
	ID              string           `json:"id"`
	Desc            string           `json:"desc"`
	MadeAt          time.Time        `json:"made_at"`
	Due             *time.Time       `json:"due,omitempty"`
	Status          CommitmentStatus `json:"status"`
	EvidenceEventID string           `json:"evidence_event_id,omitempty"`
	Reactivations   []time.Time      `json:"reactivations,omitempty"`
	SchemaVersion   int              `json:"schema_version"`
}

// ABMItem is one claim the agent holds about itself.
type ABMItem struct {
	ID             string    `json:"id"`
	Type           ABMType   `json:"type"`
	Text           string    `json:"text"` // <=140 chars, first person
	SourceEventID  string    `json:"source_event_id,omitempty"`
	Stability      float64   `json:"stability"`
	Importance     float64   `json:"importance"`
	Status         ABMStatus `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastVerified   time.Time `json:"last_verified"`
	RevisionReason string    `json:"revision_reason,omitempty"`
	SchemaVersion  int       `json:"schema_version"`
}

// Canon is the compact versioned synthesis of ABM: the agent's "who am I".
type Canon struct {
	Role          string    `json:"role"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	Limits        []string  `json:"limits,omitempty"`
	Style         string    `json:"style,omitempty"`
	Principles    []string  `json:"principles,omitempty"`
	Commitments   []string  `json:"commitments,omitempty"`
	Version       int       `json:"version"`
	LastUpdated   time.Time `json:"last_updated"`
	SchemaVersion int       `json:"schema_version"`
}

// EchoPattern is a short phrasing fragment that worked well before.
// Material for paraphrasing, never verbatim reuse.
type EchoPattern struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"` // <=120 chars
	Context       PatternContext `json:"context"`
	Success       float64        `json:"success"`
	UsageCount    int            `json:"usage_count"`
	LastUsed      time.Time      `json:"last_used"`
	CreatedAt     time.Time      `json:"created_at"`
	SchemaVersion int            `json:"schema_version"`
}

// RelationshipState tracks how well the agent knows this user.
type RelationshipState struct {
	Stage           RelationshipStage `json:"stage"`
	Familiarity     float64           `json:"familiarity"`
	Interactions    int               `json:"interactions"`
	FirstMeeting    time.Time         `json:"first_meeting"`
	LastInteraction time.Time         `json:"last_interaction"`
	Topics          []string          `json:"topics,omitempty"`
	GivenName       string            `json:"given_name,omitempty"`
	SchemaVersion   int               `json:"schema_version"`
}

// DailyDigest is the consolidated card produced by the rollup pipeline.
type DailyDigest struct {
	Date          string   `json:"date"` // YYYY-MM-DD
	Card          string   `json:"card"` // <=700 chars
	NewFacts      []string `json:"new_facts,omitempty"`
	Commitments   []string `json:"active_commitments,omitempty"`
	OpenTopics    []string `json:"open_topics,omitempty"`
	NextStep      string   `json:"next_step,omitempty"`
	SchemaVersion int      `json:"schema_version"`
}

// Clamp01 bounds a score into [0,1]. Every weight, confidence and salience
// in the engine passes through this before being stored.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
