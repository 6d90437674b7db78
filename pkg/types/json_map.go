package types

// JSONMap stores loosely structured JSON payloads such as gateway callback
// metadata. Persisted through GORM's json serializer.
type JSONMap map[string]any
