package hive

import (
	"fmt"
	"sync"
)

// AgentSpec is the launch configuration of a single agent.
type AgentSpec struct {
	CLI   string `json:"cli"`
	Model string `json:"model,omitempty"`
}

// Agent is one member of a session hierarchy.
type Agent struct {
	ID     string      `json:"id"`
	Role   Role        `json:"role"`
	Status AgentStatus `json:"status"`
	CLI    string      `json:"cli"`
	Model  string      `json:"model,omitempty"`
	PID    int         `json:"pid,omitempty"`
}

// Parent returns the agent's parent id, empty for roots.
func (a Agent) Parent() string {
	return a.Role.Parent
}

// Hierarchy is the agent tree of one session: an id -> agent index
// plus a children-by-parent index, kept consistent under one lock.
type Hierarchy struct {
	mu        sync.RWMutex
	sessionID string
	agents    map[string]Agent
	children  map[string][]string
	order     []string
}

func NewHierarchy(sessionID string) *Hierarchy {
	return &Hierarchy{
		sessionID: sessionID,
		agents:    make(map[string]Agent),
		children:  make(map[string][]string),
	}
}

// BuildHive creates a Queen plus workers parented to the Queen.
func BuildHive(sessionID string, queen AgentSpec, workers []AgentSpec) (*Hierarchy, error) {
	h := NewHierarchy(sessionID)
	queenID, err := h.add(QueenRole(), queen)
	if err != nil {
		return nil, err
	}
	for i, worker := range workers {
		if _, err := h.add(WorkerRole(i, queenID), worker); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// BuildSwarm creates a Queen, planners parented to the Queen and the
// shared worker set under each planner. Worker indices are global
// across the session.
func BuildSwarm(sessionID string, queen AgentSpec, plannerCount int, planner AgentSpec, workersPerPlanner []AgentSpec) (*Hierarchy, error) {
	h := NewHierarchy(sessionID)
	queenID, err := h.add(QueenRole(), queen)
	if err != nil {
		return nil, err
	}
	workerIndex := 0
	for i := 0; i < plannerCount; i++ {
		role := PlannerRole(i)
		role.Parent = queenID
		plannerID, err := h.add(role, planner)
		if err != nil {
			return nil, err
		}
		for _, worker := range workersPerPlanner {
			if _, err := h.add(WorkerRole(workerIndex, plannerID), worker); err != nil {
				return nil, err
			}
			workerIndex++
		}
	}
	return h, nil
}

// VariantSpec names one fusion variant and its agent configuration.
type VariantSpec struct {
	Name  string    `json:"name"`
	Agent AgentSpec `json:"agent"`
}

// BuildFusion creates the variant agents of a fusion session. The
// Judge is added later, once every variant completes.
func BuildFusion(sessionID string, variants []VariantSpec) (*Hierarchy, error) {
	h := NewHierarchy(sessionID)
	for i, variant := range variants {
		role := FusionRole(variant.Name)
		role.Index = i
		if _, err := h.add(role, variant.Agent); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// BuildPlanning creates a hierarchy holding only the MasterPlanner.
// Workers join after the plan is approved.
func BuildPlanning(sessionID string, planner AgentSpec) (*Hierarchy, error) {
	h := NewHierarchy(sessionID)
	if _, err := h.add(MasterPlannerRole(), planner); err != nil {
		return nil, err
	}
	return h, nil
}

// BuildSolo creates a hierarchy holding a single Queen.
func BuildSolo(sessionID string, queen AgentSpec) (*Hierarchy, error) {
	return BuildHive(sessionID, queen, nil)
}

func (h *Hierarchy) SessionID() string {
	return h.sessionID
}

func (h *Hierarchy) add(role Role, spec AgentSpec) (string, error) {
	agent := Agent{
		ID:     role.AgentID(h.sessionID),
		Role:   role,
		Status: Starting(),
		CLI:    spec.CLI,
		Model:  spec.Model,
	}
	if err := h.Add(agent); err != nil {
		return "", err
	}
	return agent.ID, nil
}

// Add inserts an agent. Worker parents must already exist; on any
// error the hierarchy is left unchanged.
func (h *Hierarchy) Add(agent Agent) error {
	if agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.agents[agent.ID]; exists {
		return &DuplicateAgentError{AgentID: agent.ID}
	}
	parent := agent.Parent()
	if parent != "" {
		if _, ok := h.agents[parent]; !ok {
			return &ParentNotFoundError{SessionID: h.sessionID, ParentID: parent}
		}
	}

	h.agents[agent.ID] = agent
	h.order = append(h.order, agent.ID)
	if parent != "" {
		h.children[parent] = append(h.children[parent], agent.ID)
	}
	return nil
}

// AddWorker appends a worker under parentID, defaulting to the Queen
// when parentID is empty. Returns the created agent.
func (h *Hierarchy) AddWorker(spec AgentSpec, parentID string) (Agent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if parentID == "" {
		parentID = QueenRole().AgentID(h.sessionID)
	}
	if _, ok := h.agents[parentID]; !ok {
		return Agent{}, &ParentNotFoundError{SessionID: h.sessionID, ParentID: parentID}
	}

	index := 0
	for _, existing := range h.agents {
		if existing.Role.Kind == RoleWorker && existing.Role.Index >= index {
			index = existing.Role.Index + 1
		}
	}

	agent := Agent{
		ID:     WorkerRole(index, parentID).AgentID(h.sessionID),
		Role:   WorkerRole(index, parentID),
		Status: Starting(),
		CLI:    spec.CLI,
		Model:  spec.Model,
	}
	if _, exists := h.agents[agent.ID]; exists {
		return Agent{}, &DuplicateAgentError{AgentID: agent.ID}
	}

	h.agents[agent.ID] = agent
	h.order = append(h.order, agent.ID)
	h.children[parentID] = append(h.children[parentID], agent.ID)
	return agent, nil
}

func (h *Hierarchy) Get(id string) (Agent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	agent, ok := h.agents[id]
	return agent, ok
}

// Queen returns the session's Queen agent, if present.
func (h *Hierarchy) Queen() (Agent, bool) {
	return h.Get(QueenRole().AgentID(h.sessionID))
}

// Agents returns every agent in insertion order.
func (h *Hierarchy) Agents() []Agent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Agent, 0, len(h.order))
	for _, id := range h.order {
		if agent, ok := h.agents[id]; ok {
			out = append(out, agent)
		}
	}
	return out
}

// AgentsLeavesFirst returns every agent ordered children before
// parents, so a cascade stop reaps workers before the planner or
// Queen coordinating them.
func (h *Hierarchy) AgentsLeavesFirst() []Agent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Agent, 0, len(h.order))
	seen := make(map[string]bool, len(h.order))
	var walk func(id string)
	walk = func(id string) {
		seen[id] = true
		for _, child := range h.children[id] {
			walk(child)
		}
		if agent, ok := h.agents[id]; ok {
			out = append(out, agent)
		}
	}
	for _, id := range h.order {
		agent, ok := h.agents[id]
		if !ok || seen[id] {
			continue
		}
		parent := agent.Parent()
		if _, parentKnown := h.agents[parent]; parent == "" || !parentKnown {
			walk(id)
		}
	}
	// Agents unreachable from any root still get stopped.
	for _, id := range h.order {
		if agent, ok := h.agents[id]; ok && !seen[id] {
			out = append(out, agent)
		}
	}
	return out
}

// Children returns the ids of the direct children of parentID.
func (h *Hierarchy) Children(parentID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := h.children[parentID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (h *Hierarchy) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// Remove deletes an agent from both indexes.
func (h *Hierarchy) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	agent, ok := h.agents[id]
	if !ok {
		return false
	}
	delete(h.agents, id)
	for i, existing := range h.order {
		if existing == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	if parent := agent.Parent(); parent != "" {
		siblings := h.children[parent]
		for i, existing := range siblings {
			if existing == id {
				h.children[parent] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	delete(h.children, id)
	return true
}

// SetStatus updates one agent's status. Reports false for unknown ids.
func (h *Hierarchy) SetStatus(id string, status AgentStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	agent, ok := h.agents[id]
	if !ok {
		return false
	}
	agent.Status = status
	h.agents[id] = agent
	return true
}

// SetPID records the live process id of an agent.
func (h *Hierarchy) SetPID(id string, pid int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	agent, ok := h.agents[id]
	if !ok {
		return false
	}
	agent.PID = pid
	h.agents[id] = agent
	return true
}
