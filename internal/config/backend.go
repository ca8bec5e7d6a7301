package config

// ConfigBackend stores the twin's non-secret settings: voices, phone
// timing, cache and audio store choices. macOS keeps them in UserDefaults
// (domain com.twin.app), other platforms in $XDG_CONFIG_HOME/twin/config.json.
// Provider keys and tokens never go here; see Keychain.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
