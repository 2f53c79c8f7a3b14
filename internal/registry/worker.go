package registry

// Worker modes and protocols accepted in definitions. Values outside this
// set are stored untouched; the registry does not validate fields.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"

	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
)

// DurableObject describes one stateful sub-resource exposed by a worker.
type DurableObject struct {
	Name      string `json:"name"`
	ClassName string `json:"className"`
}

// WorkerDefinition is one registry entry: where a named worker can be
// reached and how. HandoffReceiverPort, when set, must be a live listening
// port in the registering process for as long as the entry exists.
type WorkerDefinition struct {
	Port                *int              `json:"port,omitempty"`
	Protocol            string            `json:"protocol,omitempty"`
	Host                string            `json:"host,omitempty"`
	Mode                string            `json:"mode,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	DurableObjects      []DurableObject   `json:"durableObjects,omitempty"`
	DurableObjectsHost  string            `json:"durableObjectsHost,omitempty"`
	DurableObjectsPort  *int              `json:"durableObjectsPort,omitempty"`
	HandoffReceiverPort *int              `json:"handOffReceiverPort,omitempty"`
}

// WorkerRegistry maps worker names to their definitions. Key presence is
// the signal of current registration.
type WorkerRegistry map[string]WorkerDefinition

// HandoffCandidate is a registered worker whose process can take over
// registry ownership.
type HandoffCandidate struct {
	Name string
	Host string
	Port int
}

// HandoffCandidates returns the workers able to receive a registry
// handoff: entries with a receiver port that is not selfPort, so a
// process never hands off to itself.
func (r WorkerRegistry) HandoffCandidates(selfPort int) []HandoffCandidate {
	var candidates []HandoffCandidate
	for name, def := range r {
		if def.HandoffReceiverPort == nil || *def.HandoffReceiverPort == selfPort {
			continue
		}
		host := def.Host
		if host == "" {
			host = DefaultHost
		}
		candidates = append(candidates, HandoffCandidate{
			Name: name,
			Host: host,
			Port: *def.HandoffReceiverPort,
		})
	}
	return candidates
}

// ServiceBinding declares a dependency on another registered worker.
type ServiceBinding struct {
	Binding     string `json:"binding"`
	Service     string `json:"service"`
	Environment string `json:"environment,omitempty"`
}

// DurableObjectBinding declares a dependency on a stateful sub-resource,
// optionally implemented by another worker's script.
type DurableObjectBinding struct {
	Name       string `json:"name"`
	ClassName  string `json:"class_name"`
	ScriptName string `json:"script_name,omitempty"`
}

// Bindings is the set of cross-worker dependencies a caller declares.
type Bindings struct {
	Services       []ServiceBinding
	DurableObjects []DurableObjectBinding
}

// Filter returns the entries of reg referenced by the declared bindings:
// bound service names plus script names of durable object bindings.
func (b Bindings) Filter(reg WorkerRegistry) WorkerRegistry {
	names := make(map[string]struct{})
	for _, svc := range b.Services {
		names[svc.Service] = struct{}{}
	}
	for _, do := range b.DurableObjects {
		if do.ScriptName != "" {
			names[do.ScriptName] = struct{}{}
		}
	}

	bound := make(WorkerRegistry)
	for name, def := range reg {
		if _, ok := names[name]; ok {
			bound[name] = def
		}
	}
	return bound
}
