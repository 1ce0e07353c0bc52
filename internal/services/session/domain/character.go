package domain

// CharacterInstance is a session-scoped snapshot of a character present in a
// live session.
//
// A persisted instance is tied one-to-one to a stored character instance and
// may be written back to durable storage when the session ends. A transient
// instance is untethered: it represents a reusable template (for example a
// standard enemy class) stamped out for this session only, possibly many
// times, and is never persisted. Modeling the two as a tagged variant keeps
// "which instances may be written back" a type-level question instead of a
// nullable back-reference.
type CharacterInstance struct {
	instanceID string
	attributes map[string]any
}

// NewPersistedInstance creates an instance tied to a stored character
// instance ID.
func NewPersistedInstance(instanceID string, attributes map[string]any) CharacterInstance {
	return CharacterInstance{instanceID: instanceID, attributes: attributes}
}

// NewTransientInstance creates an untethered instance that lives only for
// the duration of the session.
func NewTransientInstance(attributes map[string]any) CharacterInstance {
	return CharacterInstance{attributes: attributes}
}

// Persisted reports whether the instance is tied to a stored character
// instance and may be written back.
func (c CharacterInstance) Persisted() bool {
	return c.instanceID != ""
}

// InstanceID returns the stored character instance ID for persisted
// instances. The second return is false for transient instances.
func (c CharacterInstance) InstanceID() (string, bool) {
	return c.instanceID, c.instanceID != ""
}

// Attributes returns the flattened attribute set for the instance.
func (c CharacterInstance) Attributes() map[string]any {
	return c.attributes
}

// Attribute is one named character attribute value before flattening.
type Attribute struct {
	Name  string
	Value any
}

// FlattenAttributes collapses a list of named attributes into a flat map.
//
// Stored attributes are keyed by unique ID, but session instances carry them
// by name, so the same name can occur more than once. Conflicting names are
// collapsed into an array holding every value; they are expanded back into
// individual attributes if the instance is written back to storage. The
// optional extra set is merged with the same collapse rule.
func FlattenAttributes(attributes []Attribute, extra map[string]any) map[string]any {
	flattened := make(map[string]any, len(attributes)+len(extra))
	for _, attribute := range attributes {
		mergeAttribute(flattened, attribute.Name, attribute.Value)
	}
	for name, value := range extra {
		mergeAttribute(flattened, name, value)
	}
	return flattened
}

func mergeAttribute(flattened map[string]any, name string, value any) {
	existing, ok := flattened[name]
	if !ok {
		flattened[name] = value
		return
	}
	if values, ok := existing.([]any); ok {
		flattened[name] = append(values, value)
		return
	}
	flattened[name] = []any{existing, value}
}
