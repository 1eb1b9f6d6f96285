// Package orchestrator coordinates one or more agents to answer a prompt
// using a configurable strategy.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/babblebuddy/agentcore/internal/cache"
	"github.com/babblebuddy/agentcore/internal/observability"
	"github.com/babblebuddy/agentcore/internal/secret"
	"github.com/babblebuddy/agentcore/internal/store"
	"github.com/babblebuddy/agentcore/pkg/errors"
	"github.com/babblebuddy/agentcore/pkg/provider"
	"github.com/babblebuddy/agentcore/pkg/types"
	"github.com/babblebuddy/agentcore/providers"
)

// Strategy selects how agents cooperate on a prompt.
type Strategy string

// Supported strategies.
const (
	StrategySingle   Strategy = "single"
	StrategyLeader   Strategy = "leader"
	StrategyParallel Strategy = "parallel"
	StrategyChain    Strategy = "chain"
)

// ParseStrategy validates a strategy string. Empty defaults to single.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySingle, StrategyLeader, StrategyParallel, StrategyChain:
		return Strategy(s), nil
	case "":
		return StrategySingle, nil
	}
	return "", fmt.Errorf("unknown strategy: %s", s)
}

// chainRoleOrder is the fixed role ordering for the chain strategy. Agents
// with other roles run after these, in listing order.
var chainRoleOrder = []store.AgentRole{
	store.RoleResearcher,
	store.RoleCoder,
	store.RoleReviewer,
	store.RoleLeader,
}

// AgentResponse is the outcome of one agent execution.
type AgentResponse struct {
	AgentID   uuid.UUID `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	AgentRole string    `json:"agent_role"`
	Content   string    `json:"content"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Response is the aggregated result of an orchestration.
type Response struct {
	Primary        string          `json:"primary_response"`
	AgentResponses []AgentResponse `json:"agent_responses"`
	Strategy       Strategy        `json:"strategy"`
}

// Request parameterizes one orchestration.
type Request struct {
	AppID        uuid.UUID
	Prompt       string
	SystemPrompt string
	History      []types.Message
	Strategy     Strategy
	TargetRole   string    // SINGLE: route by role
	AgentID      uuid.UUID // SINGLE: route to a specific agent
}

// Options wires optional infrastructure into the orchestrator.
type Options struct {
	OllamaHost    string
	ResponseCache cache.ResponseCache
	CacheTTL      time.Duration
	Metrics       *observability.Metrics
	Tracer        trace.Tracer
}

// Orchestrator executes agents against their providers. Provider instances
// are cached per agent so repeated requests reuse connections.
type Orchestrator struct {
	store  store.Store
	box    *secret.Box
	logger *observability.Logger
	opts   Options

	mu        sync.Mutex
	providers map[uuid.UUID]provider.Provider
}

// New creates an orchestrator.
func New(s store.Store, box *secret.Box, logger *observability.Logger, opts Options) *Orchestrator {
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer(observability.TracerName)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Orchestrator{
		store:     s,
		box:       box,
		logger:    logger,
		opts:      opts,
		providers: make(map[uuid.UUID]provider.Provider),
	}
}

// Orchestrate routes the prompt through the requested strategy.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	agents, err := o.activeAgents(ctx, req.AppID)
	if err != nil {
		o.observe(req.Strategy, "error", start)
		return nil, err
	}

	var resp *Response
	switch req.Strategy {
	case StrategySingle, "":
		resp, err = o.orchestrateSingle(ctx, agents, req)
	case StrategyLeader:
		resp, err = o.orchestrateLeader(ctx, agents, req)
	case StrategyParallel:
		resp, err = o.orchestrateParallel(ctx, agents, req)
	case StrategyChain:
		resp, err = o.orchestrateChain(ctx, agents, req)
	default:
		err = fmt.Errorf("unknown strategy: %s", req.Strategy)
	}

	if err != nil {
		o.observe(req.Strategy, "error", start)
		return nil, err
	}
	o.observe(req.Strategy, "success", start)
	return resp, nil
}

// StreamSingle streams the response of one agent selected with the single
// strategy's routing rules. Multi-agent strategies do not stream.
func (o *Orchestrator) StreamSingle(ctx context.Context, req Request) (provider.StreamReader, *store.Agent, error) {
	agents, err := o.activeAgents(ctx, req.AppID)
	if err != nil {
		return nil, nil, err
	}

	agent, err := selectAgent(agents, req.TargetRole, req.AgentID)
	if err != nil {
		return nil, nil, err
	}

	p, err := o.providerFor(ctx, agent)
	if err != nil {
		return nil, nil, err
	}

	stream, err := p.GenerateStream(ctx, &types.GenerateRequest{
		Prompt:       req.Prompt,
		SystemPrompt: effectiveSystemPrompt(agent, req.SystemPrompt),
		History:      req.History,
	})
	if err != nil {
		return nil, nil, err
	}
	return stream, agent, nil
}

// Close releases all cached provider instances.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id, p := range o.providers {
		if err := p.Close(); err != nil {
			o.logger.Warn("failed to close provider", "agent_id", id.String(), "error", err.Error())
		}
		delete(o.providers, id)
	}
	return nil
}

func (o *Orchestrator) activeAgents(ctx context.Context, appID uuid.UUID) ([]*store.Agent, error) {
	agents, err := o.store.ListAgents(ctx, appID, true)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("no active agents found for app %s", appID)
	}
	return agents, nil
}

// selectAgent applies the single-strategy routing rules: explicit agent ID,
// then role match, then the leader, then the first agent.
func selectAgent(agents []*store.Agent, targetRole string, agentID uuid.UUID) (*store.Agent, error) {
	if agentID != uuid.Nil {
		for _, a := range agents {
			if a.ID == agentID {
				return a, nil
			}
		}
		return nil, fmt.Errorf("agent %s not found or not active", agentID)
	}

	if targetRole != "" {
		for _, a := range agents {
			if string(a.Role) == targetRole {
				return a, nil
			}
		}
		return nil, fmt.Errorf("no agent with role %q found", targetRole)
	}

	for _, a := range agents {
		if a.Role == store.RoleLeader {
			return a, nil
		}
	}
	return agents[0], nil
}

func effectiveSystemPrompt(agent *store.Agent, fallback string) string {
	if agent.SystemPrompt != "" {
		return agent.SystemPrompt
	}
	return fallback
}

// providerFor returns the cached provider for an agent, creating it on
// first use. Agents on external providers must carry a decryptable key.
func (o *Orchestrator) providerFor(ctx context.Context, agent *store.Agent) (provider.Provider, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if p, ok := o.providers[agent.ID]; ok {
		return p, nil
	}

	cfg := provider.Config{
		Model:       agent.Model,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	}

	if agent.Provider == store.ProviderOllama {
		cfg.BaseURL = o.opts.OllamaHost
	} else {
		if agent.APIKeyEncrypted == "" {
			return nil, fmt.Errorf("agent %s requires an API key for %s", agent.Name, agent.Provider)
		}
		key, err := o.box.Decrypt(agent.APIKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt API key for agent %s: %w", agent.Name, err)
		}
		cfg.APIKey = key
	}

	p, err := providers.Create(string(agent.Provider), cfg)
	if err != nil {
		return nil, err
	}
	o.providers[agent.ID] = p
	return p, nil
}

// executeAgent runs one agent and never returns an error: failures become
// unsuccessful AgentResponses so aggregation strategies can proceed.
func (o *Orchestrator) executeAgent(ctx context.Context, agent *store.Agent, prompt, systemPrompt string, history []types.Message) AgentResponse {
	resp := AgentResponse{
		AgentID:   agent.ID,
		AgentName: agent.Name,
		AgentRole: string(agent.Role),
	}

	ctx, span := observability.StartAgentSpan(ctx, o.opts.Tracer, "agent.generate", string(agent.Provider), agent.Model)
	defer span.End()

	p, err := o.providerFor(ctx, agent)
	if err != nil {
		observability.RecordError(span, err)
		o.logger.Error("agent failed", "agent", agent.Name, "error", err.Error())
		resp.Error = err.Error()
		return resp
	}

	effective := effectiveSystemPrompt(agent, systemPrompt)

	cacheKey := o.responseCacheKey(agent, prompt, effective, history)
	if cacheKey != "" {
		if content, err := o.opts.ResponseCache.Get(ctx, cacheKey); err == nil {
			o.countCache("hit")
			resp.Content = content
			resp.Success = true
			return resp
		}
		o.countCache("miss")
	}

	start := time.Now()
	content, err := p.Generate(ctx, &types.GenerateRequest{
		Prompt:       prompt,
		SystemPrompt: effective,
		History:      history,
	})
	if err != nil {
		observability.RecordError(span, err)
		o.observeProvider(string(agent.Provider), "error", start)
		o.logger.Error("agent failed", "agent", agent.Name, "error", err.Error())
		if llmErr, ok := errors.AsLLMError(err); ok {
			resp.Error = llmErr.Message
		} else {
			resp.Error = err.Error()
		}
		return resp
	}
	o.observeProvider(string(agent.Provider), "success", start)

	if cacheKey != "" {
		if err := o.opts.ResponseCache.Set(ctx, cacheKey, content, o.opts.CacheTTL); err == nil {
			o.countCache("set")
		}
	}

	resp.Content = content
	resp.Success = true
	return resp
}

func (o *Orchestrator) responseCacheKey(agent *store.Agent, prompt, systemPrompt string, history []types.Message) string {
	if o.opts.ResponseCache == nil {
		return ""
	}
	parts := []string{agent.ID.String(), systemPrompt, prompt}
	for _, m := range history {
		parts = append(parts, m.Role+":"+m.Content)
	}
	return cache.ResponseKey(parts...)
}

func (o *Orchestrator) orchestrateSingle(ctx context.Context, agents []*store.Agent, req Request) (*Response, error) {
	agent, err := selectAgent(agents, req.TargetRole, req.AgentID)
	if err != nil {
		return nil, err
	}

	resp := o.executeAgent(ctx, agent, req.Prompt, req.SystemPrompt, req.History)
	return &Response{
		Primary:        resp.Content,
		AgentResponses: []AgentResponse{resp},
		Strategy:       StrategySingle,
	}, nil
}

// orchestrateLeader sends the prompt to the leader with a roster of the
// other agents appended to its system prompt. Without a leader it degrades
// to the single strategy.
func (o *Orchestrator) orchestrateLeader(ctx context.Context, agents []*store.Agent, req Request) (*Response, error) {
	var leader *store.Agent
	for _, a := range agents {
		if a.Role == store.RoleLeader {
			leader = a
			break
		}
	}
	if leader == nil {
		single := req
		single.TargetRole = ""
		single.AgentID = uuid.Nil
		return o.orchestrateSingle(ctx, agents, single)
	}

	var roster []string
	for _, a := range agents {
		if a.ID == leader.ID {
			continue
		}
		desc := a.SystemPrompt
		switch {
		case desc == "":
			desc = "General purpose"
		case len(desc) > 100:
			desc = desc[:100] + "..."
		}
		roster = append(roster, fmt.Sprintf("- %s (%s): %s", a.Name, a.Role, desc))
	}

	leaderSystem := leader.SystemPrompt
	if len(roster) > 0 {
		leaderSystem += "\n\nAvailable specialist agents:\n" + strings.Join(roster, "\n")
	}

	// Pass the roster-augmented prompt directly so the agent's own system
	// prompt does not shadow it.
	resp := o.executeAgentWithSystem(ctx, leader, req.Prompt, leaderSystem, req.History)
	return &Response{
		Primary:        resp.Content,
		AgentResponses: []AgentResponse{resp},
		Strategy:       StrategyLeader,
	}, nil
}

// executeAgentWithSystem is executeAgent with the system prompt taken as
// given instead of deferring to the agent's own.
func (o *Orchestrator) executeAgentWithSystem(ctx context.Context, agent *store.Agent, prompt, systemPrompt string, history []types.Message) AgentResponse {
	override := *agent
	override.SystemPrompt = systemPrompt
	return o.executeAgent(ctx, &override, prompt, systemPrompt, history)
}

// orchestrateParallel fans the prompt out to every agent and aggregates.
// Responses keep launch order regardless of completion order.
func (o *Orchestrator) orchestrateParallel(ctx context.Context, agents []*store.Agent, req Request) (*Response, error) {
	responses := make([]AgentResponse, len(agents))

	var wg sync.WaitGroup
	for i, agent := range agents {
		wg.Add(1)
		go func(i int, agent *store.Agent) {
			defer wg.Done()
			responses[i] = o.executeAgent(ctx, agent, req.Prompt, req.SystemPrompt, req.History)
		}(i, agent)
	}
	wg.Wait()

	var successful []AgentResponse
	for _, r := range responses {
		if r.Success {
			successful = append(successful, r)
		}
	}

	var primary string
	switch len(successful) {
	case 0:
		primary = fmt.Sprintf("All agents failed. First error: %s", responses[0].Error)
	case 1:
		primary = successful[0].Content
	default:
		parts := make([]string, 0, len(successful))
		for _, r := range successful {
			parts = append(parts, fmt.Sprintf("**%s** (%s):\n%s", r.AgentName, r.AgentRole, r.Content))
		}
		primary = strings.Join(parts, "\n\n")
	}

	return &Response{
		Primary:        primary,
		AgentResponses: responses,
		Strategy:       StrategyParallel,
	}, nil
}

// orchestrateChain runs agents sequentially, feeding each the accumulated
// output of its successful predecessors.
func (o *Orchestrator) orchestrateChain(ctx context.Context, agents []*store.Agent, req Request) (*Response, error) {
	ordered := orderForChain(agents)

	responses := make([]AgentResponse, 0, len(ordered))
	var accumulated strings.Builder

	for _, agent := range ordered {
		chainPrompt := req.Prompt
		if accumulated.Len() > 0 {
			chainPrompt = req.Prompt + "\n\nContext from previous analysis:\n" + accumulated.String()
		}

		resp := o.executeAgent(ctx, agent, chainPrompt, req.SystemPrompt, req.History)
		responses = append(responses, resp)

		if resp.Success {
			accumulated.WriteString(fmt.Sprintf("\n\n[%s (%s)]:\n%s", agent.Name, agent.Role, resp.Content))
		}
	}

	primary := ""
	for i := len(responses) - 1; i >= 0; i-- {
		if responses[i].Success {
			primary = responses[i].Content
			break
		}
	}
	if primary == "" {
		primary = fmt.Sprintf("Chain failed: %s", responses[len(responses)-1].Error)
	}

	return &Response{
		Primary:        primary,
		AgentResponses: responses,
		Strategy:       StrategyChain,
	}, nil
}

// orderForChain sorts agents by the fixed chain role order; agents with
// other roles keep their listing order at the end.
func orderForChain(agents []*store.Agent) []*store.Agent {
	rank := make(map[store.AgentRole]int, len(chainRoleOrder))
	for i, role := range chainRoleOrder {
		rank[role] = i
	}

	ordered := append([]*store.Agent(nil), agents...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, iKnown := rank[ordered[i].Role]
		rj, jKnown := rank[ordered[j].Role]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown:
			return true
		default:
			return false
		}
	})
	return ordered
}

func (o *Orchestrator) observe(strategy Strategy, outcome string, start time.Time) {
	if o.opts.Metrics == nil {
		return
	}
	s := strategy
	if s == "" {
		s = StrategySingle
	}
	o.opts.Metrics.ObserveOrchestration(string(s), outcome, time.Since(start))
}

func (o *Orchestrator) observeProvider(providerName, outcome string, start time.Time) {
	if o.opts.Metrics == nil {
		return
	}
	o.opts.Metrics.ObserveProvider(providerName, outcome, time.Since(start))
}

func (o *Orchestrator) countCache(result string) {
	if o.opts.Metrics == nil {
		return
	}
	o.opts.Metrics.CacheOpsTotal.WithLabelValues("response", result).Inc()
}
