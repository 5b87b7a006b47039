package driven

// ConfigStore persists user settings under flat dotted keys such as
// "retrieval.threshold". Values are stored as given; the settings service
// owns parsing and validation.
type ConfigStore interface {
	// Get returns the stored value and whether the key is present.
	Get(key string) (any, bool)

	// Set stores a value and persists it immediately.
	Set(key string, value any) error

	// Delete removes a key so its default applies again. Deleting a
	// missing key is not an error.
	Delete(key string) error

	// Keys returns every stored key in sorted order.
	Keys() []string

	// Path names where the values live, for display.
	Path() string
}
