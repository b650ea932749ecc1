package profile

// TopicCategory labels a conversation topic class produced by the external
// classifier. Only categories, never content, cross this boundary.
type TopicCategory string

const (
	// Safe categories
	TopicGaming  TopicCategory = "gaming"
	TopicSchool  TopicCategory = "school"
	TopicSports  TopicCategory = "sports"
	TopicMusic   TopicCategory = "music"
	TopicMovies  TopicCategory = "movies"
	TopicHobbies TopicCategory = "hobbies"

	// Sensitive categories
	TopicPersonal      TopicCategory = "personal"
	TopicFamily        TopicCategory = "family"
	TopicAppearance    TopicCategory = "appearance"
	TopicRelationships TopicCategory = "relationships"

	// High-risk categories
	TopicSecrecy  TopicCategory = "secrecy" // "keep this between us" class signals
	TopicGifts    TopicCategory = "gifts"
	TopicSelfHarm TopicCategory = "self_harm"

	// Critical categories
	TopicLocationRequest   TopicCategory = "location_request"
	TopicPhotoRequest      TopicCategory = "photo_request"
	TopicMeetingSuggestion TopicCategory = "meeting_suggestion"
	TopicExploitation      TopicCategory = "exploitation"
)

// RiskLevel orders topic categories by severity.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskSensitive
	RiskHigh
	RiskCritical
)

// String returns the level name.
func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskSensitive:
		return "sensitive"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

var topicRiskLevels = map[TopicCategory]RiskLevel{
	TopicGaming:  RiskSafe,
	TopicSchool:  RiskSafe,
	TopicSports:  RiskSafe,
	TopicMusic:   RiskSafe,
	TopicMovies:  RiskSafe,
	TopicHobbies: RiskSafe,

	TopicPersonal:      RiskSensitive,
	TopicFamily:        RiskSensitive,
	TopicAppearance:    RiskSensitive,
	TopicRelationships: RiskSensitive,

	TopicSecrecy:  RiskHigh,
	TopicGifts:    RiskHigh,
	TopicSelfHarm: RiskHigh,

	TopicLocationRequest:   RiskCritical,
	TopicPhotoRequest:      RiskCritical,
	TopicMeetingSuggestion: RiskCritical,
	TopicExploitation:      RiskCritical,
}

// RiskLevel returns the category's severity. Unknown categories are treated
// as sensitive: the classifier may ship new labels before this table learns them.
func (t TopicCategory) RiskLevel() RiskLevel {
	if lvl, ok := topicRiskLevels[t]; ok {
		return lvl
	}
	return RiskSensitive
}

// IsPersonal reports whether the category counts toward the personal-topic
// ratio used by the grooming trend analysis.
func (t TopicCategory) IsPersonal() bool {
	switch t {
	case TopicPersonal, TopicFamily, TopicAppearance, TopicRelationships:
		return true
	}
	return false
}

// ExploitationCategories are the terminal-stage grooming request classes.
var ExploitationCategories = []TopicCategory{
	TopicLocationRequest,
	TopicPhotoRequest,
	TopicMeetingSuggestion,
}
