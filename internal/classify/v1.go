package classify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"
)

// SchemaVersion is the wire schema version produced by the classifier
const SchemaVersion = 1

// MaxTaskTitle bounds generated task titles
const MaxTaskTitle = 80

var dueDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2})?$`)

// ListingV1 is the listing block of the wire format
type ListingV1 struct {
	Type    *string `json:"type" jsonschema:"enum=SALE,enum=LEASE"`
	Address *string `json:"address"`
}

// V1 is the structured classification exchanged with the model and stored
// in queue payloads
type V1 struct {
	SchemaVersion int       `json:"schema_version" jsonschema:"enum=1"`
	MessageType   Kind      `json:"message_type" jsonschema:"enum=GROUP,enum=STRAY,enum=INFO_REQUEST,enum=IGNORE"`
	TaskKey       *TaskKey  `json:"task_key"`
	GroupKey      *GroupKey `json:"group_key"`
	Listing       ListingV1 `json:"listing"`
	AssigneeHint  *string   `json:"assignee_hint"`
	DueDate       *string   `json:"due_date" jsonschema:"description=yyyy-MM-dd or yyyy-MM-ddTHH:mm"`
	TaskTitle     *string   `json:"task_title" jsonschema:"maxLength=80"`
	Confidence    float64   `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Explanations  []string  `json:"explanations"`
}

// Validate checks the cross-field rules of the wire format
func (v *V1) Validate() error {
	if v.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", v.SchemaVersion)
	}
	if !v.MessageType.Valid() {
		return fmt.Errorf("unknown message type %q", v.MessageType)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", v.Confidence)
	}

	hasTask := v.TaskKey != nil && *v.TaskKey != ""
	hasGroup := v.GroupKey != nil && *v.GroupKey != ""
	switch v.MessageType {
	case KindGroup:
		if !hasGroup || hasTask {
			return fmt.Errorf("GROUP requires group_key and no task_key")
		}
		if !v.GroupKey.Valid() {
			return fmt.Errorf("unknown group_key %q", *v.GroupKey)
		}
	case KindStray:
		if !hasTask || hasGroup {
			return fmt.Errorf("STRAY requires task_key and no group_key")
		}
		if !v.TaskKey.Valid() {
			return fmt.Errorf("unknown task_key %q", *v.TaskKey)
		}
	default:
		if hasTask || hasGroup {
			return fmt.Errorf("%s must not carry task_key or group_key", v.MessageType)
		}
	}

	if t := v.Listing.Type; t != nil && *t != ListingSale && *t != ListingLease {
		return fmt.Errorf("unknown listing type %q", *t)
	}
	if v.DueDate != nil && *v.DueDate != "" {
		if err := validateDueDate(*v.DueDate); err != nil {
			return err
		}
	}
	if v.TaskTitle != nil && utf8.RuneCountInString(*v.TaskTitle) > MaxTaskTitle {
		return fmt.Errorf("task_title longer than %d characters", MaxTaskTitle)
	}
	return nil
}

func validateDueDate(s string) error {
	if !dueDatePattern.MatchString(s) {
		return fmt.Errorf("due_date %q must be yyyy-MM-dd or yyyy-MM-ddTHH:mm", s)
	}
	layout := "2006-01-02"
	if len(s) > len(layout) {
		layout = "2006-01-02T15:04"
	}
	if _, err := time.Parse(layout, s); err != nil {
		return fmt.Errorf("invalid due_date %q: %w", s, err)
	}
	return nil
}

// Result converts a validated wire value into its typed form
func (v *V1) Result() (Result, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	listing := Listing{Type: deref(v.Listing.Type), Address: deref(v.Listing.Address)}
	switch v.MessageType {
	case KindGroup:
		return Group{
			GroupKey:     *v.GroupKey,
			Listing:      listing,
			AssigneeHint: deref(v.AssigneeHint),
			DueDate:      deref(v.DueDate),
			Confidence:   v.Confidence,
			Explanations: v.Explanations,
		}, nil
	case KindStray:
		return Stray{
			TaskKey:      *v.TaskKey,
			Title:        deref(v.TaskTitle),
			Listing:      listing,
			AssigneeHint: deref(v.AssigneeHint),
			DueDate:      deref(v.DueDate),
			Confidence:   v.Confidence,
			Explanations: v.Explanations,
		}, nil
	case KindInfoRequest:
		return InfoRequest{Listing: listing, Confidence: v.Confidence, Explanations: v.Explanations}, nil
	default:
		return Ignore{Confidence: v.Confidence, Explanations: v.Explanations}, nil
	}
}

// Decode parses and validates a wire classification
func Decode(data []byte) (Result, error) {
	var v V1
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid classification json: %w", err)
	}
	return v.Result()
}

// Encode converts a typed result into its wire form
func Encode(r Result) V1 {
	v := V1{SchemaVersion: SchemaVersion, MessageType: r.Kind(), Confidence: r.Score()}

	switch r := r.(type) {
	case Group:
		key := r.GroupKey
		v.GroupKey = &key
		v.Listing = listingV1(r.Listing)
		v.AssigneeHint = ptr(r.AssigneeHint)
		v.DueDate = ptr(r.DueDate)
		v.Explanations = r.Explanations
	case Stray:
		key := r.TaskKey
		v.TaskKey = &key
		v.Listing = listingV1(r.Listing)
		v.AssigneeHint = ptr(r.AssigneeHint)
		v.DueDate = ptr(r.DueDate)
		v.TaskTitle = ptr(r.Title)
		v.Explanations = r.Explanations
	case InfoRequest:
		v.Listing = listingV1(r.Listing)
		v.Explanations = r.Explanations
	case Ignore:
		v.Explanations = r.Explanations
	}
	return v
}

func listingV1(l Listing) ListingV1 {
	return ListingV1{Type: ptr(l.Type), Address: ptr(l.Address)}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
