// Package backend defines the adapter contract every execution backend
// implements (local simulation, accelerated simulation, remote hardware or
// cloud simulation), the capability and health data the engine reasons
// about, and the Registry that selects a backend for a request.
package backend
