package config

import (
	"runtime"
)

// PlatformDefaults returns platform-specific default values
type PlatformDefaults struct {
	LogFile     string
	StorageRoot string
	CounterFile string
	ConfigPath  string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	switch runtime.GOOS {
	case "windows":
		return PlatformDefaults{
			LogFile:     `C:\ProgramData\FieldNode\fieldnode.log`,
			StorageRoot: `C:\ProgramData\FieldNode\card`,
			CounterFile: `C:\ProgramData\FieldNode\sequence`,
			ConfigPath:  `C:\ProgramData\FieldNode\config.yaml`,
		}
	case "freebsd":
		return PlatformDefaults{
			LogFile:     "/var/log/fieldnode/fieldnode.log",
			StorageRoot: "/var/db/fieldnode/card",
			CounterFile: "/var/db/fieldnode/sequence",
			ConfigPath:  "/usr/local/etc/fieldnode/config.yaml",
		}
	default:
		// Linux and anything unknown
		return PlatformDefaults{
			LogFile:     "/var/log/fieldnode/fieldnode.log",
			StorageRoot: "/var/lib/fieldnode/card",
			CounterFile: "/var/lib/fieldnode/sequence",
			ConfigPath:  "/etc/fieldnode/config.yaml",
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// UpdateConfigDefaults sets the platform-specific viper defaults.
// Called from setDefaults().
func UpdateConfigDefaults(v interface{}) {
	type viper interface {
		SetDefault(key string, value interface{})
	}

	if viperInstance, ok := v.(viper); ok {
		defaults := GetPlatformDefaults()

		viperInstance.SetDefault("storage.root", defaults.StorageRoot)
		viperInstance.SetDefault("storage.counter_file", defaults.CounterFile)
		viperInstance.SetDefault("logging.file", defaults.LogFile)
	}
}
