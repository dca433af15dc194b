package models

// Requirements are the resources a scheduling unit asks the workflow engine
// for. Byte quantities are in bytes.
type Requirements struct {
	// Memory is the memory requirement in bytes.
	Memory int64 `json:"memory" yaml:"memory"`
	// Cores is the number of (possibly fractional) cores.
	Cores float64 `json:"cores" yaml:"cores"`
	// Disk is the scratch disk requirement in bytes.
	Disk int64 `json:"disk" yaml:"disk"`
	// Preemptable marks work that may run on preemptable nodes.
	Preemptable bool `json:"preemptable" yaml:"preemptable"`
}
