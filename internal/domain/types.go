package domain

// Metadata is an unstructured metadata container for domain entities.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// String returns the string value for key, or "" when absent or not a string.
func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
