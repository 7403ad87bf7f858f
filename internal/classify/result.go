// Package classify turns a batch of chat messages into a typed operational
// classification.
package classify

// Kind is the message type decided for a batch
type Kind string

// Classification kinds
const (
	KindGroup       Kind = "GROUP"
	KindStray       Kind = "STRAY"
	KindInfoRequest Kind = "INFO_REQUEST"
	KindIgnore      Kind = "IGNORE"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindGroup, KindStray, KindInfoRequest, KindIgnore:
		return true
	}
	return false
}

// Result is one of Group, Stray, InfoRequest or Ignore
type Result interface {
	Kind() Kind
	Score() float64
	isResult()
}

// Listing describes the property a message refers to
type Listing struct {
	Type    string `json:"type,omitempty"`
	Address string `json:"address,omitempty"`
}

// Group declares or updates a listing container
type Group struct {
	GroupKey     GroupKey
	Listing      Listing
	AssigneeHint string
	DueDate      string
	Confidence   float64
	Explanations []string
}

// Stray is a single actionable task not tied to a listing group
type Stray struct {
	TaskKey      TaskKey
	Title        string
	Listing      Listing
	AssigneeHint string
	DueDate      string
	Confidence   float64
	Explanations []string
}

// InfoRequest is operational content missing the specifics to act on
type InfoRequest struct {
	Listing      Listing
	Confidence   float64
	Explanations []string
}

// Ignore is chit-chat or content unrelated to operations
type Ignore struct {
	Confidence   float64
	Explanations []string
}

func (Group) Kind() Kind       { return KindGroup }
func (Stray) Kind() Kind       { return KindStray }
func (InfoRequest) Kind() Kind { return KindInfoRequest }
func (Ignore) Kind() Kind      { return KindIgnore }

func (r Group) Score() float64       { return r.Confidence }
func (r Stray) Score() float64       { return r.Confidence }
func (r InfoRequest) Score() float64 { return r.Confidence }
func (r Ignore) Score() float64      { return r.Confidence }

func (Group) isResult()       {}
func (Stray) isResult()       {}
func (InfoRequest) isResult() {}
func (Ignore) isResult()      {}

// Actionable reports whether r should produce a domain effect given the
// minimum confidence
func Actionable(r Result, minConfidence float64) bool {
	if r == nil || r.Kind() == KindIgnore {
		return false
	}
	return r.Score() >= minConfidence
}
