package types

// BootSource is the body of PUT /boot-source.
// KernelImagePath and InitrdPath are host paths; inside a jail they are
// rewritten to jail-relative paths before sending.
type BootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	InitrdPath      string `json:"initrd_path,omitempty"`
	BootArgs        string `json:"boot_args,omitempty"`
}

// MachineConfiguration is used by GET, PUT and PATCH /machine-config.
type MachineConfiguration struct {
	VCPUCount       int    `json:"vcpu_count,omitempty"`
	MemSizeMib      int    `json:"mem_size_mib,omitempty"`
	SMT             *bool  `json:"smt,omitempty"`
	TrackDirtyPages *bool  `json:"track_dirty_pages,omitempty"`
	CPUTemplate     string `json:"cpu_template,omitempty"`
	HugePages       string `json:"huge_pages,omitempty"` // "None" or "2M"
}

// CPUConfig is the body of PUT /cpu-config. Modifier lists are passed through
// to the VMM untouched.
type CPUConfig struct {
	KVMCapabilities []string         `json:"kvm_capabilities,omitempty"`
	CPUIDModifiers  []map[string]any `json:"cpuid_modifiers,omitempty"`
	MSRModifiers    []map[string]any `json:"msr_modifiers,omitempty"`
	RegModifiers    []map[string]any `json:"reg_modifiers,omitempty"`
}

// EntropyDevice is the body of PUT /entropy.
type EntropyDevice struct {
	RateLimiter *RateLimiter `json:"rate_limiter,omitempty"`
}
