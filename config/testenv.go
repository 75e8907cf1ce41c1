package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// TestEnv names the real binaries and guest images integration tests run
// against. It is read from FCSDK_TEST_* variables.
type TestEnv struct {
	Firecracker string `mapstructure:"firecracker"`
	Jailer      string `mapstructure:"jailer"`
	Kernel      string `mapstructure:"kernel"`
	Rootfs      string `mapstructure:"rootfs"`
}

// LoadTestEnv reads TestEnv through its own viper instance so the global
// CLI configuration is untouched.
func LoadTestEnv() (TestEnv, error) {
	v := viper.New()
	v.SetEnvPrefix("FCSDK_TEST")
	for _, key := range []string{"firecracker", "jailer", "kernel", "rootfs"} {
		if err := v.BindEnv(key); err != nil {
			return TestEnv{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	var env TestEnv
	if err := v.Unmarshal(&env); err != nil {
		return TestEnv{}, fmt.Errorf("parse test env: %w", err)
	}
	return env, nil
}

// CanBoot reports whether a bare VM can be launched.
func (e TestEnv) CanBoot() bool {
	return e.Firecracker != "" && e.Kernel != "" && e.Rootfs != ""
}

// CanJail reports whether a jailed VM can be launched.
func (e TestEnv) CanJail() bool {
	return e.CanBoot() && e.Jailer != ""
}
